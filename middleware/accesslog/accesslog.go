// Package accesslog writes one line per query to a log file, including the
// policy decision the query got.
package accesslog

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/dnswire"
	"github.com/fqdnguard/fqdnguard/middleware"
)

// AccessLog type.
type AccessLog struct {
	logFile *os.File
}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New returns a new AccessLog.
func New(cfg *config.Config) *AccessLog {
	var logFile *os.File
	var err error

	if cfg.AccessLog != "" {
		logFile, err = os.OpenFile(cfg.AccessLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			zlog.Error("Access log file open failed", "error", strings.Trim(err.Error(), "\n"))
		}
	}

	return &AccessLog{logFile: logFile}
}

// Name return middleware name.
func (a *AccessLog) Name() string { return name }

// ServeDNS implements the Handler interface.
func (a *AccessLog) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	if a.logFile == nil || len(ch.Query.Question) == 0 {
		return
	}

	record := []string{
		ch.Writer.RemoteIP().String() + " -",
		"[" + time.Now().Format("02/Jan/2006:15:04:05 -0700") + "]",
		formatQuestion(ch.Query.Question[0]),
		"udp",
		strings.ToUpper(ch.Decision.String()),
	}

	_, err := a.logFile.WriteString(strings.Join(record, " ") + "\n")
	if err != nil {
		zlog.Error("Access log write failed", "error", strings.Trim(err.Error(), "\n"))
	}
}

func formatQuestion(q dnswire.Question) string {
	return "\"" + strings.ToLower(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype] + "\""
}

const name = "accesslog"
