package services

import (
  "context"
  "encoding/base64"
  "errors"
  "fmt"
  "io"

  openai "github.com/sashabaranov/go-openai"

  "github.com/pockettalk/pockettalk-backend/internal/apperr"
  "github.com/pockettalk/pockettalk-backend/internal/logger"
  "github.com/pockettalk/pockettalk-backend/internal/types"
  "github.com/pockettalk/pockettalk-backend/internal/utils"
)

// ModelGateway wraps the hosted generation provider. History passed in is
// used as-is after shaping; callers are expected to run ShapeHistory first
// (the provider rejects a history that opens on an assistant turn).
type ModelGateway interface {
  Generate(ctx context.Context, prompt string, history []HistoryTurn) (string, error)
  // GenerateStream yields fragments through onDelta as the provider
  // produces them. Fragments already delivered are never retracted; a
  // mid-stream error means "partial output, terminate".
  GenerateStream(ctx context.Context, prompt string, history []HistoryTurn, onDelta func(string) error) error
  GenerateWithImage(ctx context.Context, prompt string, imageBytes []byte, mimeType string) (string, error)
  GenerateWithDocument(ctx context.Context, prompt string, documentBytes []byte, mimeType, fileName string) (string, error)
}

// ShapeHistory drops leading non-user turns so the history opens on a
// user-authored entry. A history with no user turn at all becomes nil.
func ShapeHistory(turns []HistoryTurn) []HistoryTurn {
  for i, t := range turns {
    if t.Role == types.MessageRoleUser {
      return turns[i:]
    }
  }
  return nil
}

type openAIGateway struct {
  log         *logger.Logger
  client      *openai.Client
  model       string
  visionModel string
}

func NewOpenAIGateway(log *logger.Logger) (ModelGateway, error) {
  serviceLog := log.With("service", "ModelGateway")
  apiKey := utils.GetEnv("OPENAI_API_KEY", "", log)
  if apiKey == "" {
    return nil, fmt.Errorf("missing OPENAI_API_KEY environment variable")
  }
  cfg := openai.DefaultConfig(apiKey)
  if baseURL := utils.GetEnv("OPENAI_BASE_URL", "", log); baseURL != "" {
    cfg.BaseURL = baseURL
  }
  model := utils.GetEnv("OPENAI_MODEL", openai.GPT4oMini, log)
  visionModel := utils.GetEnv("OPENAI_VISION_MODEL", model, log)
  return &openAIGateway{
    log:         serviceLog,
    client:      openai.NewClientWithConfig(cfg),
    model:       model,
    visionModel: visionModel,
  }, nil
}

func (g *openAIGateway) Generate(ctx context.Context, prompt string, history []HistoryTurn) (string, error) {
  resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
    Model:    g.model,
    Messages: buildMessages(prompt, history),
  })
  if err != nil {
    g.log.Warn("completion call failed", "error", err)
    return "", apperr.Wrap(apperr.KindUpstreamGeneration, "the model provider failed to generate a response", err)
  }
  if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
    return "", apperr.New(apperr.KindUpstreamGeneration, "the model provider returned an empty response")
  }
  return resp.Choices[0].Message.Content, nil
}

func (g *openAIGateway) GenerateStream(ctx context.Context, prompt string, history []HistoryTurn, onDelta func(string) error) error {
  stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
    Model:    g.model,
    Messages: buildMessages(prompt, history),
  })
  if err != nil {
    g.log.Warn("failed to open completion stream", "error", err)
    return apperr.Wrap(apperr.KindUpstreamGeneration, "the model provider failed to open a stream", err)
  }
  defer stream.Close()

  for {
    response, err := stream.Recv()
    if err != nil {
      if errors.Is(err, io.EOF) {
        return nil
      }
      g.log.Warn("stream receive error", "error", err)
      return apperr.Wrap(apperr.KindUpstreamGeneration, "the model provider failed mid-stream", err)
    }
    if len(response.Choices) > 0 {
      delta := response.Choices[0].Delta.Content
      if delta != "" && onDelta != nil {
        if cbErr := onDelta(delta); cbErr != nil {
          return cbErr
        }
      }
    }
  }
}

func (g *openAIGateway) GenerateWithImage(ctx context.Context, prompt string, imageBytes []byte, mimeType string) (string, error) {
  dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageBytes))
  resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
    Model: g.visionModel,
    Messages: []openai.ChatCompletionMessage{
      {
        Role: openai.ChatMessageRoleUser,
        MultiContent: []openai.ChatMessagePart{
          {Type: openai.ChatMessagePartTypeText, Text: prompt},
          {
            Type:     openai.ChatMessagePartTypeImageURL,
            ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
          },
        },
      },
    },
  })
  if err != nil {
    g.log.Warn("vision completion call failed", "error", err)
    return "", apperr.Wrap(apperr.KindUpstreamGeneration, "the model provider failed to analyze the image", err)
  }
  if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
    return "", apperr.New(apperr.KindUpstreamGeneration, "the model provider returned an empty response")
  }
  return resp.Choices[0].Message.Content, nil
}

func (g *openAIGateway) GenerateWithDocument(ctx context.Context, prompt string, documentBytes []byte, mimeType, fileName string) (string, error) {
  extracted, err := ExtractDocumentText(documentBytes, mimeType)
  if err != nil {
    return "", err
  }
  augmented := fmt.Sprintf(
    "The user attached a document named %q. Its extracted text follows between the markers.\n\n--- DOCUMENT START ---\n%s\n--- DOCUMENT END ---\n\nUser request: %s",
    fileName, extracted, prompt,
  )
  return g.Generate(ctx, augmented, nil)
}

func buildMessages(prompt string, history []HistoryTurn) []openai.ChatCompletionMessage {
  msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
  for _, t := range history {
    role := openai.ChatMessageRoleUser
    if t.Role == types.MessageRoleAssistant {
      role = openai.ChatMessageRoleAssistant
    }
    msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
  }
  return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
}
