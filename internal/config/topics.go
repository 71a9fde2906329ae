package config

const (
	// TopicRaffleSettle carries ids of settlement jobs that became due.
	TopicRaffleSettle = "raffle.settle"

	// ChannelSettlementWorkers is the NSQ channel shared by settlement workers.
	ChannelSettlementWorkers = "settlement-workers"

	// QueueSettlement names the settlement jobs inside scheduled_jobs.
	QueueSettlement = "settlement"
)
