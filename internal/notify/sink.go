package notify

import (
	"context"
	"fmt"

	"github.com/tgcapital/signalvault/internal/domain"
)

// EventSink adapts the Notifier to domain.EventSink so vault and oracle
// events flow to operators. Delivery failures are swallowed by the
// Notifier's own logging; emission never fails the emitting operation.
type EventSink struct {
	notifier *Notifier
}

// NewEventSink wraps the notifier. Pass the event types the operator wants
// to the Notifier's constructor; everything else is filtered there.
func NewEventSink(n *Notifier) *EventSink {
	return &EventSink{notifier: n}
}

// Emit formats the event and forwards it through the notifier filter.
func (s *EventSink) Emit(ctx context.Context, ev domain.Event) {
	_ = s.notifier.Notify(ctx, ev.Type, title(ev), body(ev))
}

func title(ev domain.Event) string {
	switch ev.Type {
	case domain.EventSignalPosted:
		return "Signal posted"
	case domain.EventExecuted, domain.EventTradeExecuted:
		return "Trade executed"
	case domain.EventDeposited:
		return "Deposit"
	case domain.EventRedeemed:
		return "Redemption"
	case domain.EventFeeAccrued:
		return "Fees accrued"
	case domain.EventVaultPaused:
		return "Vault PAUSED"
	case domain.EventVaultUnpaused:
		return "Vault unpaused"
	case domain.EventAuthChanged:
		return "Authorization change"
	default:
		return ev.Type
	}
}

func body(ev domain.Event) string {
	switch ev.Type {
	case domain.EventSignalPosted:
		return fmt.Sprintf("signal %v side=%v size=%v bps",
			ev.Data["signal_id"], ev.Data["side"], ev.Data["size_bps"])
	case domain.EventExecuted:
		return fmt.Sprintf("signal %v: %v in, %v out",
			ev.Data["signal_id"], ev.Data["amount_in"], ev.Data["amount_out"])
	case domain.EventTradeExecuted:
		return fmt.Sprintf("%v -> %v: %v in, %v out",
			ev.Data["asset_in"], ev.Data["asset_out"], ev.Data["amount_in"], ev.Data["amount_out"])
	case domain.EventDeposited:
		return fmt.Sprintf("%v deposited %v for %v shares",
			ev.Data["depositor"], ev.Data["assets"], ev.Data["shares"])
	case domain.EventRedeemed:
		return fmt.Sprintf("%v redeemed %v shares for %v",
			ev.Data["owner"], ev.Data["shares"], ev.Data["assets"])
	case domain.EventFeeAccrued:
		return fmt.Sprintf("%v shares minted to %v",
			ev.Data["fee_shares"], ev.Data["collector"])
	default:
		payload, err := ev.Payload()
		if err != nil {
			return ev.Type
		}
		return string(payload)
	}
}

var _ domain.EventSink = (*EventSink)(nil)
