// sessionctl inspects and resets relay sessions in the configured store, and generates
// the keys the relay is configured with.
//
//	sessionctl status <accountId>
//	sessionctl invalidate <accountId>
//	sessionctl logout <accountId>
//	sessionctl audit [--limit N] <accountId>
//	sessionctl keygen
//	sessionctl hash-secret [--cost N] < secret.txt
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"account-relay/internal/app"
	"account-relay/internal/config"
	"account-relay/internal/platform/keylock"
	"account-relay/internal/security"
	"account-relay/internal/session/domain"
	"account-relay/internal/session/seal"
	"account-relay/internal/session/service"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "sessionctl:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: sessionctl <status|invalidate|logout|audit|keygen|hash-secret> [flags] [accountId]")
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	limit := fs.Int32("limit", 20, "Maximum audit entries to print")
	cost := fs.Int("cost", 12, "bcrypt cost for hash-secret")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	switch cmd {
	case "keygen":
		identity, recipient, err := seal.GenerateIdentity()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "# recipient: %s\nSESSION_SEAL_KEY=%s\n", recipient, identity)
		return nil
	case "hash-secret":
		secret, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		secret = strings.TrimRight(secret, "\r\n")
		if secret == "" {
			return errors.New("hash-secret reads the secret from stdin")
		}
		hash, err := security.NewHasher(*cost).Hash([]byte(secret))
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "RELAY_SECRET_HASH=%s\n", hash)
		return nil
	case "status", "invalidate", "logout", "audit":
	default:
		usage(stdout)
		return fmt.Errorf("unknown command %q", cmd)
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("%s needs exactly one accountId", cmd)
	}
	accountID := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	infra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	// No dialer: these commands never reach the protocol.
	sessions := service.NewLifecycle(infra.Sessions, nil, keylock.New(), service.Config{}, logger, infra.Emitter)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	switch cmd {
	case "status":
		s, err := sessions.Status(ctx, accountID)
		if err != nil {
			return err
		}
		return enc.Encode(summarize(s))
	case "invalidate":
		s, err := sessions.Invalidate(ctx, accountID)
		if err != nil {
			return err
		}
		return enc.Encode(summarize(s))
	case "logout":
		if err := sessions.Logout(ctx, accountID); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s logged out\n", accountID)
		return nil
	default: // audit
		if infra.Audit == nil {
			return errors.New("audit log requires the sqlite or postgres store (or DATABASE_URL with redis)")
		}
		entries, err := infra.Audit.ListByAccount(ctx, accountID, *limit, 0)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(stdout, "%s  %-16s %-8s %-8s ip=%s req=%s %s\n",
				e.CreatedAt.Format(time.RFC3339), e.Action, e.Resource, e.Outcome, e.IP, e.RequestID, e.Metadata)
		}
		return nil
	}
}

type summary struct {
	AccountID        string            `json:"accountId"`
	Phase            domain.Phase      `json:"phase"`
	Phone            string            `json:"phone,omitempty"`
	APIID            int64             `json:"apiId,omitempty"`
	HasProtocolBlob  bool              `json:"hasProtocolSession"`
	PendingExpiresAt *time.Time        `json:"pendingExpiresAt,omitempty"`
	RetryAfter       *time.Time        `json:"retryAfter,omitempty"`
	PasswordAttempts int               `json:"passwordAttempts"`
	RateLimitStrikes int               `json:"rateLimitStrikes"`
	LastActivityAt   time.Time         `json:"lastActivityAt"`
	LastError        *domain.ErrorInfo `json:"lastError,omitempty"`
}

// summarize drops the blob, pending token and api hash.
func summarize(s *domain.Session) summary {
	return summary{
		AccountID:        s.AccountID,
		Phase:            s.Phase,
		Phone:            s.Phone,
		APIID:            s.Credentials.APIID,
		HasProtocolBlob:  s.ProtocolSessionBlob != "",
		PendingExpiresAt: s.PendingExpiresAt,
		RetryAfter:       s.RetryAfter,
		PasswordAttempts: s.PasswordAttempts,
		RateLimitStrikes: s.RateLimitStrikes,
		LastActivityAt:   s.LastActivityAt,
		LastError:        s.LastError,
	}
}
