package main

import (
	"fmt"
	"log/syslog"

	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
)

// facilities maps the configuration file's syslog facility names onto the
// stdlib's syslog priority constants.
var facilities = map[string]syslog.Priority{
	"kern":     syslog.LOG_KERN,
	"user":     syslog.LOG_USER,
	"mail":     syslog.LOG_MAIL,
	"daemon":   syslog.LOG_DAEMON,
	"auth":     syslog.LOG_AUTH,
	"syslog":   syslog.LOG_SYSLOG,
	"lpr":      syslog.LOG_LPR,
	"news":     syslog.LOG_NEWS,
	"uucp":     syslog.LOG_UUCP,
	"cron":     syslog.LOG_CRON,
	"authpriv": syslog.LOG_AUTHPRIV,
	"ftp":      syslog.LOG_FTP,
	"local0":   syslog.LOG_LOCAL0,
	"local1":   syslog.LOG_LOCAL1,
	"local2":   syslog.LOG_LOCAL2,
	"local3":   syslog.LOG_LOCAL3,
	"local4":   syslog.LOG_LOCAL4,
	"local5":   syslog.LOG_LOCAL5,
	"local6":   syslog.LOG_LOCAL6,
	"local7":   syslog.LOG_LOCAL7,
}

func newSyslogHook(facilityName string) (*logrus_syslog.SyslogHook, error) {
	facility, ok := facilities[facilityName]
	if !ok {
		return nil, fmt.Errorf("unknown syslog facility: %s", facilityName)
	}
	hook, err := logrus_syslog.NewSyslogHook("", "", facility, "zfszipper")
	if err != nil {
		return nil, fmt.Errorf("connecting to syslog: %w", err)
	}
	return hook, nil
}
