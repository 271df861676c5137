package lib

type RawMessage struct {
	topicSuffix  string
	partitionKey map[string]any
	payload      any
}

func NewRawMessage(topicSuffix string, partitionKey map[string]any, payload any) RawMessage {
	return RawMessage{
		topicSuffix:  topicSuffix,
		partitionKey: partitionKey,
		payload:      payload,
	}
}

func (r RawMessage) TopicSuffix() string {
	return r.topicSuffix
}

func (r RawMessage) PartitionKey() map[string]any {
	return r.partitionKey
}

func (r RawMessage) GetPayload() any {
	return r.payload
}
