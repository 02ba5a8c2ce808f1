package events

// Topics emitted by the billing engine.
const (
	TopicBillSettled        = "bill.settled"
	TopicVoucherRedeemed    = "voucher.redeemed"
	TopicSettlementRejected = "settlement.rejected"
)

// DefaultTopics lists every topic the bus accepts.
func DefaultTopics() []string {
	return []string{
		TopicBillSettled,
		TopicVoucherRedeemed,
		TopicSettlementRejected,
	}
}

func knownTopic(topic string) bool {
	for _, t := range DefaultTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
