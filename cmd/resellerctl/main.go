// resellerctl seals a reseller's vendor API secrets and stores them for the
// arbiter service. Secrets are read from stdin or flags and never echoed.
//
//	resellerctl -reseller acme \
//	  -msg-user u -msg-pass p -voice-user vu -voice-pass vp
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/clinicnetworking/fraapi/internal/arbiter_service/domain"
	"github.com/clinicnetworking/fraapi/internal/arbiter_service/repository/postgres"
	"github.com/clinicnetworking/fraapi/internal/platform/config"
	"github.com/clinicnetworking/fraapi/internal/platform/crypto"
	"github.com/clinicnetworking/fraapi/internal/platform/database"
	"github.com/clinicnetworking/fraapi/internal/platform/logger"
)

func main() {
	resellerID := flag.String("reseller", "", "reseller id (required)")
	msgUser := flag.String("msg-user", "", "messaging API client id")
	msgPass := flag.String("msg-pass", "", "messaging API client secret (prompted if omitted)")
	voiceUser := flag.String("voice-user", "", "voice API username")
	voicePass := flag.String("voice-pass", "", "voice API password (prompted if omitted)")
	flag.Parse()

	if *resellerID == "" || *msgUser == "" || *voiceUser == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load("resellerctl")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel)

	stdin := bufio.NewReader(os.Stdin)
	if *msgPass == "" {
		*msgPass = prompt(stdin, "messaging API secret: ")
	}
	if *voicePass == "" {
		*voicePass = prompt(stdin, "voice API password: ")
	}

	ctx := context.Background()
	dbPool, err := database.NewDBPool(ctx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	blob, err := crypto.Seal(*resellerID, domain.ResellerCredentials{
		MsgAPIUser:       *msgUser,
		MsgAPIPassword:   *msgPass,
		VoiceAPIUser:     *voiceUser,
		VoiceAPIPassword: *voicePass,
	})
	if err != nil {
		appLogger.Error("Failed to seal reseller credentials", "error", err)
		os.Exit(1)
	}

	store := postgres.NewPgResellerStore(dbPool, appLogger)
	if err := store.SaveBlob(ctx, *resellerID, blob); err != nil {
		appLogger.Error("Failed to store reseller credentials", "error", err, "reseller_id", *resellerID)
		os.Exit(1)
	}

	fmt.Printf("stored credentials for reseller %q\n", *resellerID)
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Fprint(os.Stderr, label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
