package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/smithy-go"

	"docent/internal/domain"
)

// BedrockClient implements Client against the Bedrock agent runtime
// RetrieveAndGenerateStream API.
type BedrockClient struct {
	runtime         *bedrockagentruntime.Client
	knowledgeBaseID string
	modelARN        string
	logger          *slog.Logger
}

// NewBedrockClient creates a knowledge base client bound to one knowledge
// base and generation model.
func NewBedrockClient(runtime *bedrockagentruntime.Client, knowledgeBaseID, modelARN string, logger *slog.Logger) *BedrockClient {
	return &BedrockClient{
		runtime:         runtime,
		knowledgeBaseID: knowledgeBaseID,
		modelARN:        modelARN,
		logger:          logger,
	}
}

// RetrieveAndGenerateStream opens an incremental generation stream for one
// query. The returned stream's session ID is known immediately; text,
// citation and guardrail events arrive on the Events channel.
func (c *BedrockClient) RetrieveAndGenerateStream(ctx context.Context, req *Request) (Stream, error) {
	input := &bedrockagentruntime.RetrieveAndGenerateStreamInput{
		Input: &types.RetrieveAndGenerateInput{
			Text: aws.String(req.Query),
		},
		RetrieveAndGenerateConfiguration: &types.RetrieveAndGenerateConfiguration{
			Type: types.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &types.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(c.knowledgeBaseID),
				ModelArn:        aws.String(c.modelARN),
				RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
					VectorSearchConfiguration: &types.KnowledgeBaseVectorSearchConfiguration{
						NumberOfResults: aws.Int32(int32(req.NumberOfResults)),
					},
				},
				GenerationConfiguration: &types.GenerationConfiguration{
					PromptTemplate: &types.PromptTemplate{
						TextPromptTemplate: aws.String(req.PromptTemplate),
					},
				},
			},
		},
	}
	if req.SessionID != "" {
		input.SessionId = aws.String(req.SessionID)
	}

	out, err := c.runtime.RetrieveAndGenerateStream(ctx, input)
	if err != nil {
		return nil, translateError(err)
	}

	s := &bedrockStream{
		sessionID: aws.ToString(out.SessionId),
		upstream:  out.GetStream(),
		events:    make(chan Event, 16),
		done:      make(chan struct{}),
	}
	go s.pump(c.logger)
	return s, nil
}

type bedrockStream struct {
	sessionID string
	upstream  *bedrockagentruntime.RetrieveAndGenerateStreamEventStream
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func (s *bedrockStream) SessionID() string    { return s.sessionID }
func (s *bedrockStream) Events() <-chan Event { return s.events }
func (s *bedrockStream) Err() error           { return s.err }

// Close abandons the stream. The done channel unblocks a pump stuck sending
// into a full events buffer nobody is draining anymore.
func (s *bedrockStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.upstream.Close()
}

// pump translates SDK event-stream members into kb events until end-of-stream
// or Close.
func (s *bedrockStream) pump(logger *slog.Logger) {
	defer close(s.events)

	for raw := range s.upstream.Events() {
		var ev Event
		switch member := raw.(type) {
		case *types.RetrieveAndGenerateStreamResponseOutputMemberOutput:
			ev = Event{Kind: EventText, Text: aws.ToString(member.Value.Text)}
		case *types.RetrieveAndGenerateStreamResponseOutputMemberCitation:
			ev = Event{Kind: EventCitation, Citation: convertCitation(member.Value.Citation)}
		case *types.RetrieveAndGenerateStreamResponseOutputMemberGuardrail:
			ev = Event{Kind: EventGuardrail, Guardrail: string(member.Value.Action)}
		default:
			logger.Debug("ignoring unknown stream event", "type", fmt.Sprintf("%T", raw))
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}

	s.err = translateError(s.upstream.Err())
}

// convertCitation maps the SDK citation structure onto the passthrough shape
// persisted and sent to clients. Metadata values are decoded as loose JSON.
func convertCitation(c *types.Citation) domain.Citation {
	out := domain.Citation{RetrievedReferences: []domain.RetrievedReference{}}
	if c == nil {
		return out
	}

	for _, ref := range c.RetrievedReferences {
		converted := domain.RetrievedReference{}

		if ref.Content != nil {
			converted.Content.Text = aws.ToString(ref.Content.Text)
		}
		if ref.Location != nil {
			converted.Location.Type = string(ref.Location.Type)
			if ref.Location.S3Location != nil {
				converted.Location.URI = aws.ToString(ref.Location.S3Location.Uri)
			}
			if ref.Location.WebLocation != nil {
				converted.Location.URL = aws.ToString(ref.Location.WebLocation.Url)
			}
		}
		if len(ref.Metadata) > 0 {
			converted.Metadata = make(map[string]any, len(ref.Metadata))
			for key, doc := range ref.Metadata {
				var value any
				if err := doc.UnmarshalSmithyDocument(&value); err == nil {
					converted.Metadata[key] = value
				}
			}
		}

		out.RetrievedReferences = append(out.RetrievedReferences, converted)
	}

	return out
}

// translateError classifies upstream failures. Session rejections are folded
// into ErrSessionExpired so the relay can distinguish the one recoverable
// case; everything else passes through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		message := strings.ToLower(apiErr.ErrorMessage())
		switch code {
		case "ValidationException", "ResourceNotFoundException", "ConflictException":
			if strings.Contains(message, "session") {
				return fmt.Errorf("%s: %w", apiErr.ErrorMessage(), ErrSessionExpired)
			}
		}
	}

	return err
}
