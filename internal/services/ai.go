package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/pkg/logger"
	"google.golang.org/genai"
	"gorm.io/gorm"
)

var jsonObjectRegex = regexp.MustCompile(`(?s)\{.*\}`)

// MetadataSource is the storefront record an AI suggestion is generated for.
type MetadataSource struct {
	ProjectID   uint
	TargetID    uint
	AssetType   string
	Handle      string
	Title       string
	Description string
}

// MetadataSuggestion is what the model proposed, plus the call's usage.
type MetadataSuggestion struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Provider         string `json:"-"`
	Model            string `json:"-"`
	LLMConfigID      uint   `json:"-"`
	PromptTokens     int    `json:"-"`
	CompletionTokens int    `json:"-"`
}

// MetadataGenerator produces SEO title/description suggestions for one record.
type MetadataGenerator interface {
	GenerateMetadata(ctx context.Context, source *MetadataSource) (*MetadataSuggestion, error)
}

// llmCompletion is the raw output of a single provider call.
type llmCompletion struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// MetadataAIService implements MetadataGenerator over the configured LLMs,
// falling back through active configs in priority order.
type MetadataAIService struct {
	db     *gorm.DB
	config *config.OpenAIConfig
}

func NewMetadataAIService(db *gorm.DB, cfg *config.OpenAIConfig) *MetadataAIService {
	return &MetadataAIService{db: db, config: cfg}
}

func (s *MetadataAIService) GenerateMetadata(ctx context.Context, source *MetadataSource) (*MetadataSuggestion, error) {
	prompt := buildMetadataPrompt(source)

	llmConfigs := s.getOrderedLLMConfigs(ctx)
	if len(llmConfigs) == 0 {
		return nil, fmt.Errorf("no LLM configuration available")
	}

	var lastErr error
	for i, llmConfig := range llmConfigs {
		logger.Debug().
			Str("llm", llmConfig.Name).
			Str("model", llmConfig.Model).
			Uint("target_id", source.TargetID).
			Msgf("[AI] Attempting LLM %d/%d", i+1, len(llmConfigs))

		completion, err := s.callLLM(ctx, &llmConfig, prompt)
		if err != nil {
			lastErr = err
			logger.Warnf("[AI] LLM %s failed: %v, trying next...", llmConfig.Name, err)
			continue
		}

		suggestion, err := parseMetadataSuggestion(completion.Content)
		if err != nil {
			lastErr = err
			logger.Warnf("[AI] LLM %s returned unparseable metadata: %v", llmConfig.Name, err)
			continue
		}
		suggestion.Provider = providerOrDefault(llmConfig.Provider)
		suggestion.Model = llmConfig.Model
		suggestion.LLMConfigID = llmConfig.ID
		suggestion.PromptTokens = completion.PromptTokens
		suggestion.CompletionTokens = completion.CompletionTokens
		return suggestion, nil
	}

	return nil, fmt.Errorf("all LLMs failed, last error: %w", lastErr)
}

func buildMetadataPrompt(source *MetadataSource) string {
	var b strings.Builder
	b.WriteString("You write SEO metadata for an online store.\n")
	b.WriteString("Return only a JSON object with the keys \"title\" (at most 60 characters) and \"description\" (at most 155 characters).\n")
	b.WriteString("Use an empty string when you cannot suggest anything useful.\n\n")
	fmt.Fprintf(&b, "Asset type: %s\n", source.AssetType)
	if source.Handle != "" {
		fmt.Fprintf(&b, "Handle: %s\n", source.Handle)
	}
	fmt.Fprintf(&b, "Title: %s\n", source.Title)
	if source.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", source.Description)
	}
	return b.String()
}

// parseMetadataSuggestion accepts bare JSON or JSON wrapped in prose or code fences.
func parseMetadataSuggestion(content string) (*MetadataSuggestion, error) {
	raw := jsonObjectRegex.FindString(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var suggestion MetadataSuggestion
	if err := json.Unmarshal([]byte(raw), &suggestion); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	suggestion.Title = strings.TrimSpace(suggestion.Title)
	suggestion.Description = strings.TrimSpace(suggestion.Description)
	return &suggestion, nil
}

func providerOrDefault(provider string) string {
	if provider == "" {
		return models.ProviderOpenAI
	}
	return provider
}

func (s *MetadataAIService) getOrderedLLMConfigs(ctx context.Context) []models.LLMConfig {
	var configs []models.LLMConfig

	var defaultConfig models.LLMConfig
	if err := s.db.WithContext(ctx).Where("is_default = ? AND is_active = ?", true, true).First(&defaultConfig).Error; err == nil {
		configs = append(configs, defaultConfig)
	}

	var backupConfigs []models.LLMConfig
	s.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&backupConfigs)
	for _, c := range backupConfigs {
		if len(configs) > 0 && configs[0].ID == c.ID {
			continue
		}
		configs = append(configs, c)
	}

	if len(configs) == 0 && s.config != nil && s.config.APIKey != "" {
		configs = append(configs, models.LLMConfig{
			Name:    "fallback",
			BaseURL: s.config.BaseURL,
			APIKey:  s.config.APIKey,
			Model:   s.config.Model,
		})
	}

	return configs
}

// callLLM dispatches to the appropriate provider-specific function based on Provider field
func (s *MetadataAIService) callLLM(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*llmCompletion, error) {
	switch llmConfig.Provider {
	case models.ProviderAnthropic:
		return s.callAnthropic(ctx, llmConfig, prompt)
	case models.ProviderOllama:
		return s.callOllama(ctx, llmConfig, prompt)
	case models.ProviderGemini:
		return s.callGemini(ctx, llmConfig, prompt)
	case models.ProviderAzure:
		return s.callAzure(ctx, llmConfig, prompt)
	default:
		// openai and other OpenAI-compatible services
		return s.callOpenAI(ctx, llmConfig, prompt)
	}
}

func temperatureOf(llmConfig *models.LLMConfig) float32 {
	if llmConfig.Temperature > 0 {
		return float32(llmConfig.Temperature)
	}
	return 0.3
}

func (s *MetadataAIService) callOpenAI(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*llmCompletion, error) {
	clientConfig := openai.DefaultConfig(llmConfig.APIKey)
	if llmConfig.BaseURL != "" {
		clientConfig.BaseURL = llmConfig.BaseURL
	}
	return chatCompletion(ctx, openai.NewClientWithConfig(clientConfig), llmConfig, prompt, "OpenAI")
}

// callAzure uses the Model field as the deployment name.
func (s *MetadataAIService) callAzure(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*llmCompletion, error) {
	azureConfig := openai.DefaultAzureConfig(llmConfig.APIKey, llmConfig.BaseURL)
	return chatCompletion(ctx, openai.NewClientWithConfig(azureConfig), llmConfig, prompt, "Azure OpenAI")
}

func chatCompletion(ctx context.Context, client *openai.Client, llmConfig *models.LLMConfig, prompt, label string) (*llmCompletion, error) {
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: llmConfig.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    temperatureOf(llmConfig),
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", label, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from %s", label)
	}

	return &llmCompletion{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (s *MetadataAIService) callAnthropic(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*llmCompletion, error) {
	opts := []option.RequestOption{option.WithAPIKey(llmConfig.APIKey)}
	if llmConfig.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(llmConfig.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := int64(llmConfig.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	model := llmConfig.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Anthropic API error: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &llmCompletion{
		Content:          content.String(),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func (s *MetadataAIService) callOllama(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*llmCompletion, error) {
	baseURL := llmConfig.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, http.DefaultClient)

	model := llmConfig.Model
	if model == "" {
		model = "llama3"
	}

	stream := false
	completion := &llmCompletion{}
	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Format:   json.RawMessage(`"json"`),
		Options: map[string]interface{}{
			"temperature": llmConfig.Temperature,
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			completion.PromptTokens = resp.PromptEvalCount
			completion.CompletionTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Ollama API error: %w", err)
	}

	completion.Content = content.String()
	return completion, nil
}

func (s *MetadataAIService) callGemini(ctx context.Context, llmConfig *models.LLMConfig, prompt string) (*llmCompletion, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  llmConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini client error: %w", err)
	}

	model := llmConfig.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	completion := &llmCompletion{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		completion.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		completion.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return completion, nil
}
