package tracing

import "go.opentelemetry.io/otel/attribute"

func attrThread(threadID string) attribute.KeyValue {
	return attribute.String("guppy.thread_id", threadID)
}

func attrEventFile(name string) attribute.KeyValue {
	return attribute.String("guppy.event_file", name)
}
