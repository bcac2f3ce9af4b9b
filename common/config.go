package common

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
)

var (
	// Log is the configured logger
	Log *logger.Logger

	// ConsumeNATSStreamingSubscriptions indicates whether this instance runs the
	// anchoring consumers in-process
	ConsumeNATSStreamingSubscriptions bool

	// BaseResourceURL is the canonical base URL embedded in anchored passport URIs
	BaseResourceURL string

	// ExplorerBaseURL is the base URL for human-viewable ledger explorer links
	ExplorerBaseURL string
)

func init() {
	godotenv.Load()

	requireLogger()
	requireFlags()
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("passport", lvl, endpoint)
}

func requireFlags() {
	ConsumeNATSStreamingSubscriptions = strings.ToLower(os.Getenv("CONSUME_NATS_STREAMING_SUBSCRIPTIONS")) == "true"

	BaseResourceURL = os.Getenv("BASE_RESOURCE_URL")
	if BaseResourceURL == "" {
		BaseResourceURL = "https://api.heldobjects.com"
	}

	ExplorerBaseURL = os.Getenv("LEDGER_EXPLORER_BASE_URL")
	if ExplorerBaseURL == "" {
		ExplorerBaseURL = "https://etherscan.io"
	}
}
