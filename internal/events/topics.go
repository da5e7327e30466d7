package events

// Topic constants for domain events emitted by the sale workflows.
const (
	TopicSaleCompleted   = "sale.completed"
	TopicSaleItemsEdited = "sale.items_edited"
	TopicSaleDrifted     = "sale.total_drifted"
)

// StockTopics returns the topics after which cached stock levels are stale.
func StockTopics() []string {
	return []string{TopicSaleCompleted}
}

// TotalsTopics returns the topics after which cached sales figures are stale.
func TotalsTopics() []string {
	return []string{TopicSaleCompleted, TopicSaleItemsEdited, TopicSaleDrifted}
}
