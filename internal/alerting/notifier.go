package alerting

import (
	"context"
	"fmt"
	"strings"
)

// Channel 定义告警输送接口。Implementations own their transport-level
// retries and formatting quirks; the dispatcher only guarantees isolation.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// RenderText renders one event as a plain-text notification.
func RenderText(ev Event) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[coinwatch %s]\n", ev.Kind))
	builder.WriteString(fmt.Sprintf("Coin: %s\n", ev.CoinID))
	builder.WriteString(fmt.Sprintf("Severity: %s\n", ev.Severity))
	builder.WriteString(fmt.Sprintf("Before: %s\n", ev.MetricBefore.String()))
	builder.WriteString(fmt.Sprintf("After: %s\n", ev.MetricAfter.String()))
	builder.WriteString(ev.Message)
	return builder.String()
}
