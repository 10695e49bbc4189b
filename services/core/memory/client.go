// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// LocusGraphClient is the narrow contract the adapter needs against
// the external event-graph store: write an event, fetch events
// relevant to a context. LocusGraph's own schema/indexing internals
// are out of scope (§1 Non-goals); this interface is the fixed
// collaborator boundary.
type LocusGraphClient interface {
	Write(ctx context.Context, event Event) (string, error)
	Query(ctx context.Context, contextID string, limit int) ([]Event, error)
	QueryText(ctx context.Context, text string, limit int) ([]Event, error)
}

// memoryEventClassName is the Weaviate class LocusGraph stores
// events under. Grounded on memory/schema.go's CodeMemoryClassName
// pattern.
const memoryEventClassName = "LocusAgentMemoryEvent"

// WeaviateClient implements LocusGraphClient against a weaviate
// instance, mirroring memory/store.go's Store/Get/List shape.
type WeaviateClient struct {
	client    *weaviate.Client
	dataSpace string
}

// NewWeaviateClient builds a client scoped to dataSpace, the project
// isolation key (grounded on MemoryStore.dataSpace).
func NewWeaviateClient(client *weaviate.Client, dataSpace string) (*WeaviateClient, error) {
	if client == nil {
		return nil, fmt.Errorf("memory: weaviate client must not be nil")
	}
	if dataSpace == "" {
		return nil, fmt.Errorf("memory: dataSpace must not be empty")
	}
	return &WeaviateClient{client: client, dataSpace: dataSpace}, nil
}

// EventSchema returns the Weaviate class definition for memory
// events, grounded on memory/schema.go's GetCodeMemorySchema.
func EventSchema() *models.Class {
	skip := map[string]interface{}{"text2vec-transformers": map[string]interface{}{"skip": true}}
	return &models.Class{
		Class:       memoryEventClassName,
		Description: "Append-only runtime memory events exchanged with LocusGraph",
		Vectorizer:  "text2vec-transformers",
		Properties: []*models.Property{
			{Name: "graphId", DataType: []string{"text"}, ModuleConfig: skip},
			{Name: "eventKind", DataType: []string{"text"}, ModuleConfig: skip},
			{Name: "contextId", DataType: []string{"text"}, ModuleConfig: skip},
			{Name: "source", DataType: []string{"text"}, ModuleConfig: skip},
			{Name: "payload", DataType: []string{"text"}},
			{Name: "timestamp", DataType: []string{"date"}, ModuleConfig: skip},
			{Name: "confidence", DataType: []string{"number"}, ModuleConfig: skip},
			{Name: "dataSpace", DataType: []string{"text"}, ModuleConfig: skip},
		},
	}
}

// EnsureSchema creates the memory event class if absent, idempotent
// (grounded on memory/schema.go's EnsureCodeMemorySchema).
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	_, err := client.Schema().ClassGetter().WithClassName(memoryEventClassName).Do(ctx)
	if err == nil {
		return nil
	}
	return client.Schema().ClassCreator().WithClass(EventSchema()).Do(ctx)
}

// Write persists a new event, assigning GraphID/Timestamp if unset.
func (c *WeaviateClient) Write(ctx context.Context, event Event) (string, error) {
	if event.GraphID == "" {
		event.GraphID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := c.client.Data().Creator().
		WithClassName(memoryEventClassName).
		WithProperties(map[string]interface{}{
			"graphId":    event.GraphID,
			"eventKind":  event.EventKind,
			"contextId":  event.ContextID,
			"source":     event.Source,
			"payload":    event.Payload,
			"timestamp":  event.Timestamp.Format(time.RFC3339),
			"confidence": event.Confidence,
			"dataSpace":  c.dataSpace,
		}).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: write event: %v", ErrTransport, err)
	}
	return event.GraphID, nil
}

// Query fetches up to limit events for a context id, most recent
// first, grounded on MemoryStore.Get/List's GraphQL filter shape.
func (c *WeaviateClient) Query(ctx context.Context, contextID string, limit int) ([]Event, error) {
	whereFilter := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().WithPath([]string{"contextId"}).WithOperator(filters.Equal).WithValueString(contextID),
			filters.Where().WithPath([]string{"dataSpace"}).WithOperator(filters.Equal).WithValueString(c.dataSpace),
		})

	fields := []graphql.Field{
		{Name: "graphId"}, {Name: "eventKind"}, {Name: "contextId"},
		{Name: "source"}, {Name: "payload"}, {Name: "timestamp"}, {Name: "confidence"},
	}

	result, err := c.client.GraphQL().Get().
		WithClassName(memoryEventClassName).
		WithFields(fields...).
		WithWhere(whereFilter).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", ErrTransport, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrTransport, result.Errors[0].Message)
	}

	return parseGraphQLEvents(result)
}

// QueryText fetches up to limit events in dataSpace whose payload is
// semantically closest to text, via a nearText search against the
// class's text2vec-transformers vectorizer (EventSchema). This is the
// "semantic query against the task text" half of §4.7's three-query
// Inject composition, unscoped by context id since the point is to
// surface relevant memories Inject's other two queries would miss.
func (c *WeaviateClient) QueryText(ctx context.Context, text string, limit int) ([]Event, error) {
	nearText := graphql.NewNearTextArgumentBuilder().WithConcepts([]string{text})
	whereFilter := filters.Where().WithPath([]string{"dataSpace"}).WithOperator(filters.Equal).WithValueString(c.dataSpace)

	fields := []graphql.Field{
		{Name: "graphId"}, {Name: "eventKind"}, {Name: "contextId"},
		{Name: "source"}, {Name: "payload"}, {Name: "timestamp"}, {Name: "confidence"},
	}

	result, err := c.client.GraphQL().Get().
		WithClassName(memoryEventClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithWhere(whereFilter).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: semantic query events: %v", ErrTransport, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrTransport, result.Errors[0].Message)
	}

	return parseGraphQLEvents(result)
}

func parseGraphQLEvents(result *models.GraphQLResponse) ([]Event, error) {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	rows, ok := data[memoryEventClassName].([]interface{})
	if !ok {
		return nil, nil
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		e := Event{
			GraphID:   stringField(m, "graphId"),
			EventKind: stringField(m, "eventKind"),
			ContextID: stringField(m, "contextId"),
			Source:    stringField(m, "source"),
			Payload:   stringField(m, "payload"),
		}
		if ts := stringField(m, "timestamp"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				e.Timestamp = parsed
			}
		}
		if conf, ok := m["confidence"].(float64); ok {
			e.Confidence = conf
		}
		events = append(events, e)
	}
	return events, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
