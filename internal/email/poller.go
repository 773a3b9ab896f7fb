package email

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/intake"
	"github.com/jamesgiroux/dailyos-core/internal/opstate"
)

const (
	// pollNamespace is the opstate namespace for email polling state.
	pollNamespace = "email_poll"
)

// Poller checks the configured inbox for new messages by comparing IMAP
// UIDs against a persisted high-water mark, and maps them to the typed
// InboundEmail records the triage pipeline consumes.
type Poller struct {
	client *Client
	cfg    IMAPConfig
	state  *opstate.Store
	logger *slog.Logger
}

// NewPoller creates an email poller over a connected client, tracking
// state in the provided opstate store.
func NewPoller(client *Client, cfg IMAPConfig, state *opstate.Store, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client: client,
		cfg:    cfg,
		state:  state,
		logger: logger,
	}
}

// Poll returns inbound records for messages newer than the stored
// high-water mark.
//
// On first run (no stored high-water mark), the current highest UID is
// recorded silently without reporting anything as new — this prevents
// flooding the triage pipeline with the entire inbox on initial
// deployment.
func (p *Poller) Poll(ctx context.Context) ([]intake.InboundEmail, error) {
	stateKey := p.cfg.Username + ":INBOX"

	storedStr, err := p.state.Get(pollNamespace, stateKey)
	if err != nil {
		return nil, fmt.Errorf("get high-water mark %q: %w", stateKey, err)
	}

	var storedUID uint64
	switch storedStr {
	case "":
		return nil, p.seed(ctx, stateKey)
	default:
		parsed, err := strconv.ParseUint(storedStr, 10, 32)
		if err != nil {
			// Corrupted state — reseed silently.
			p.logger.Warn("corrupt high-water mark, reseeding", "stored", storedStr)
			return nil, p.seed(ctx, stateKey)
		}
		storedUID = parsed
	}

	// Fetch all messages with UIDs > storedUID (no limit — we want
	// every new message regardless of how many arrived between polls).
	newMessages, err := p.client.FetchSince(ctx, uint32(storedUID))
	if err != nil {
		return nil, fmt.Errorf("fetch new messages: %w", err)
	}
	if len(newMessages) == 0 {
		return nil, nil
	}

	// Always advance the high-water mark based on ALL fetched messages
	// (before filtering) so self-sent messages don't re-appear.
	if err := p.advanceHighWaterMark(stateKey, storedUID, newMessages); err != nil {
		return nil, err
	}

	ownAddr := strings.ToLower(p.cfg.Username)
	var out []intake.InboundEmail
	for _, env := range newMessages {
		fromAddr := strings.ToLower(extractAddress(env.From))
		if fromAddr == ownAddr {
			p.logger.Debug("skipping self-sent message", "uid", env.UID, "subject", env.Subject)
			continue
		}
		out = append(out, intake.InboundEmail{
			ID:              fmt.Sprintf("%s-%d", p.cfg.Username, env.UID),
			UID:             env.UID,
			ThreadID:        env.ThreadID,
			From:            env.From,
			Subject:         env.Subject,
			ListUnsubscribe: env.ListUnsubscribe,
			Precedence:      env.Precedence,
			ReceivedAt:      env.Date.UTC().Format(time.RFC3339),
		})
	}
	p.logger.Info("email poll complete", "new_messages", len(out))
	return out, nil
}

// Body fetches the plain-text body for one message UID. Used transiently
// for enrichment and action extraction; never persisted.
func (p *Poller) Body(ctx context.Context, uid uint32) (string, error) {
	msg, err := p.client.ReadMessage(ctx, uid)
	if err != nil {
		return "", fmt.Errorf("read message %d: %w", uid, err)
	}
	return msg.TextBody, nil
}

// seed records the current highest UID without reporting it as new.
func (p *Poller) seed(ctx context.Context, stateKey string) error {
	seedUID, ok, err := p.client.LatestUID(ctx)
	if err != nil {
		return fmt.Errorf("seed latest uid: %w", err)
	}
	if !ok {
		return nil // empty mailbox, nothing to seed
	}
	p.logger.Info("email poll first run, seeding high-water mark", "uid", seedUID)
	if err := p.state.Set(pollNamespace, stateKey, strconv.FormatUint(uint64(seedUID), 10)); err != nil {
		return fmt.Errorf("seed high-water mark %q: %w", stateKey, err)
	}
	return nil
}

// advanceHighWaterMark updates the stored high-water mark to the highest
// UID found in the result set, but never decreases it. The function
// scans all messages to determine the maximum UID rather than relying
// on any particular ordering of the input slice.
func (p *Poller) advanceHighWaterMark(stateKey string, currentMark uint64, allNew []Envelope) error {
	var highest uint64
	for _, env := range allNew {
		if uint64(env.UID) > highest {
			highest = uint64(env.UID)
		}
	}

	// Never decrease — UIDs can disappear when messages are moved or
	// deleted but the mark must only advance.
	if highest <= currentMark {
		return nil
	}
	if err := p.state.Set(pollNamespace, stateKey, strconv.FormatUint(highest, 10)); err != nil {
		return fmt.Errorf("advance high-water mark %q: %w", stateKey, err)
	}
	return nil
}

// extractAddress pulls the bare address out of "Name <addr>" forms.
func extractAddress(from string) string {
	if start := strings.Index(from, "<"); start >= 0 {
		if end := strings.Index(from, ">"); end > start {
			return from[start+1 : end]
		}
	}
	return strings.TrimSpace(from)
}
