package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/krishanraja/mindmaker-sub000/internal/mockprovider"
)

func main() {
	addr := defaultString("MOCK_PROVIDER_ADDR", ":8090")
	emailKey := defaultString("MOCK_PROVIDER_EMAIL_KEY", "")
	tokenTTL := defaultInt("MOCK_PROVIDER_TOKEN_TTL", 3600)

	fs := flag.NewFlagSet("mock-provider", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&emailKey, "email-key", emailKey, "Require this bearer key on /emails (also supports env: MOCK_PROVIDER_EMAIL_KEY)")
	fs.Int64Var(&tokenTTL, "token-ttl", tokenTTL, "expires_in seconds for issued access tokens")
	_ = fs.Parse(os.Args[1:])

	srv := mockprovider.New(tokenTTL)
	srv.RequireEmailKey(emailKey)

	_, _ = fmt.Fprintf(os.Stdout, "mock-provider listening on %s (token=/token generate=/v1/projects/... email=/emails)\n", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(envVar string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(envVar)), 10, 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
