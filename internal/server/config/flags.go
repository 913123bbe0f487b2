package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
)

var serverFlags = []string{
	"-a", "-d", "-s", "-t", "-r", "-b", "-f", "-n",
	"-mh", "-mp", "-mu", "-mw", "-mf",
	"-l", "-cs", "-rl", "-tp",
}

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN, or "memory"
//	-s string   token signing secret
//	-t int      access token validity, minutes
//	-r int      reset token validity, minutes
//	-b int      bcrypt cost
//	-f string   frontend base URL used in reset links
//	-n string   application name used in mail subjects
//	-mh/-mp/-mu/-mw/-mf   SMTP host, port, user, password, sender
//	-l string   log level
//	-cs string  cleanup cron schedule
//	-rl int     login rate limit per IP, per minute
//	-tp bool    trust X-Forwarded-For / X-Real-IP (only behind a proxy)
//
// Durations are given as integer minutes.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	resetTokenValidityDuration := fs.Int("r", int(config.ResetTokenValidityDuration.Minutes()), "reset_token_validity_duration (in minutes)")

	fs.IntVar(&config.BcryptCost, "b", config.BcryptCost, "bcrypt cost")
	fs.StringVar(&config.FrontendURL, "f", config.FrontendURL, "frontend base URL")
	fs.StringVar(&config.AppName, "n", config.AppName, "application name")

	fs.StringVar(&config.SMTPHost, "mh", config.SMTPHost, "SMTP host")
	fs.IntVar(&config.SMTPPort, "mp", config.SMTPPort, "SMTP port")
	fs.StringVar(&config.SMTPUsername, "mu", config.SMTPUsername, "SMTP username")
	fs.StringVar(&config.SMTPPassword, "mw", config.SMTPPassword, "SMTP password")
	fs.StringVar(&config.SMTPFrom, "mf", config.SMTPFrom, "SMTP sender address")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.CleanupSchedule, "cs", config.CleanupSchedule, "expired token cleanup schedule")
	fs.IntVar(&config.LoginRateLimit, "rl", config.LoginRateLimit, "auth requests per minute per IP")
	fs.BoolVar(&config.TrustProxyHeaders, "tp", config.TrustProxyHeaders, "trust proxy client IP headers")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.ResetTokenValidityDuration = time.Duration(*resetTokenValidityDuration) * time.Minute
}
