package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

func encodeCompletion(payload domain.CompletionPayload) ([]byte, error) {
	if strings.TrimSpace(payload.RequestID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode completion", fmt.Errorf("request id is empty"))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode completion: %w", err)
	}
	return data, nil
}

func decodeCompletion(data []byte) (domain.CompletionPayload, error) {
	var payload domain.CompletionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.CompletionPayload{}, domain.WrapError(domain.ErrProtocol, "decode completion", err)
	}
	if strings.TrimSpace(payload.RequestID) == "" {
		return domain.CompletionPayload{}, domain.WrapError(domain.ErrProtocol, "decode completion", fmt.Errorf("request id is empty"))
	}
	return payload, nil
}
