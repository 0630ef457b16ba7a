package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// OutboundPolicy configures how outbound replies are chunked and retried.
type OutboundPolicy struct {
	TextChunkLimit int           `json:"text_chunk_limit,omitempty"`
	RetryMax       int           `json:"retry_max,omitempty"`
	RetryBackoff   time.Duration `json:"retry_backoff,omitempty"`
}

// NormalizeOutboundPolicy fills zero-value fields with the baseline: 3 attempts, 1s base delay.
func NormalizeOutboundPolicy(policy OutboundPolicy) OutboundPolicy {
	if policy.TextChunkLimit <= 0 {
		policy.TextChunkLimit = 2000
	}
	if policy.RetryMax <= 0 {
		policy.RetryMax = 3
	}
	if policy.RetryBackoff <= 0 {
		policy.RetryBackoff = time.Second
	}
	return policy
}

// mergeOutboundPolicy overlays the adapter's declared policy on the transport defaults.
func mergeOutboundPolicy(defaults, adapter OutboundPolicy) OutboundPolicy {
	merged := defaults
	if adapter.TextChunkLimit > 0 {
		merged.TextChunkLimit = adapter.TextChunkLimit
	}
	if adapter.RetryMax > 0 {
		merged.RetryMax = adapter.RetryMax
	}
	if adapter.RetryBackoff > 0 {
		merged.RetryBackoff = adapter.RetryBackoff
	}
	return NormalizeOutboundPolicy(merged)
}

// BackoffDelay returns the sleep before retry number attempt (1-based): base * 2^(attempt-1).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// ChunkText splits text at newline boundaries, respecting the rune limit.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	lines := strings.Split(trimmed, "\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(lines))
	bufLen := 0
	for _, line := range lines {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n"))
	}
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	runes := []rune(line)
	chunks := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment == "" {
			continue
		}
		chunks = append(chunks, segment)
	}
	return chunks
}

// Transport delivers replies through the registered platform Sender, retrying transient
// failures with exponential backoff. It is safe for concurrent use.
type Transport struct {
	registry *Registry
	defaults OutboundPolicy
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewTransport creates a Transport. Zero fields of defaults take the baseline policy.
func NewTransport(log *slog.Logger, registry *Registry, defaults OutboundPolicy) *Transport {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Transport{
		registry: registry,
		defaults: NormalizeOutboundPolicy(defaults),
		logger:   log.With(slog.String("component", "outbound")),
		sleep:    sleepContext,
	}
}

// Send delivers msg to cfg's platform. Long text is split into chunks that are delivered in
// order; the first chunk that cannot be delivered aborts the rest.
func (t *Transport) Send(ctx context.Context, cfg ChannelConfig, msg OutboundMessage) error {
	sender, ok := t.registry.GetSender(cfg.ChannelType)
	if !ok {
		return fmt.Errorf("unsupported channel type: %s", cfg.ChannelType)
	}
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return fmt.Errorf("target is required")
	}
	if msg.Message.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	adapterPolicy, _ := t.registry.GetOutboundPolicy(cfg.ChannelType)
	policy := mergeOutboundPolicy(t.defaults, adapterPolicy)
	for _, chunk := range ChunkText(msg.Message.Text, policy.TextChunkLimit) {
		item := OutboundMessage{
			Target:  target,
			Message: Message{ID: msg.Message.ID, Text: chunk},
		}
		if err := t.deliver(ctx, sender, cfg, item, policy); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) deliver(ctx context.Context, sender Sender, cfg ChannelConfig, msg OutboundMessage, policy OutboundPolicy) error {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= policy.RetryMax; attempt++ {
		if attempt > 1 {
			if err := t.sleep(ctx, BackoffDelay(policy.RetryBackoff, attempt-1)); err != nil {
				break
			}
		}
		attempts = attempt
		err := sender.Send(ctx, cfg, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
		if attempt < policy.RetryMax {
			t.logger.Warn("send outbound retry",
				slog.String("channel", cfg.ChannelType.String()),
				slog.String("target", msg.Target),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
		}
	}
	return &DeliveryError{
		Channel:  cfg.ChannelType,
		Target:   msg.Target,
		Attempts: attempts,
		Err:      lastErr,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
