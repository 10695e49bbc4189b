// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOracle adapts go-openai to the Oracle contract, grounded on
// services/llm/openai_llm.go's client-wrapper shape. The API key
// itself is kept sealed in a memguard.Enclave rather than a plain
// string for the lifetime of the process, the same guarded-secret
// pattern services/orchestrator/handlers/secure_accumulator.go applies
// to streamed response tokens, applied here to the credential that
// produces them.
type OpenAIOracle struct {
	client *openai.Client
	model  string
	key    *memguard.Enclave
}

// NewOpenAIOracle builds an Oracle backed by the given API key and
// model name. apiKey is sealed into an Enclave immediately; nothing
// after construction holds it in the clear except the single
// transient decrypt inside buildClient.
func NewOpenAIOracle(apiKey, model string) *OpenAIOracle {
	o := &OpenAIOracle{model: model, key: memguard.NewEnclave([]byte(apiKey))}
	o.client = o.buildClient()
	return o
}

func (o *OpenAIOracle) buildClient() *openai.Client {
	buf, err := o.key.Open()
	if err != nil {
		// The enclave was sealed moments ago by this same process;
		// a decrypt failure here means memguard itself refused, not
		// a bad key, so there is no recovery path worth coding.
		panic(fmt.Sprintf("llm: open sealed api key: %v", err))
	}
	defer buf.Destroy()
	return openai.NewClient(buf.String())
}

func (o *OpenAIOracle) Complete(ctx context.Context, messages []Message, params GenerationParams) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stop:     params.Stop,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("llm: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: openai returned no choices")
	}

	return Response{
		Content:      resp.Choices[0].Message.Content,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}
