package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// invoker is the slice of the Bedrock runtime API we call
type invoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient implements Provider for Amazon Bedrock
type BedrockClient struct {
	Region    string
	Model     string
	Timeout   time.Duration
	MaxTokens int

	svc invoker
}

// NewBedrock initializes a Bedrock client using default AWS config chain
func NewBedrock(ctx context.Context, region, model string, timeout time.Duration) (*BedrockClient, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("bedrock model is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	if strings.TrimSpace(region) != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("AWS region not resolved: set llm.region, AWS_REGION or a region in the selected AWS profile")
	}
	return newBedrockFromConfig(cfg, model, timeout), nil
}

func newBedrockFromConfig(cfg aws.Config, model string, timeout time.Duration, optFns ...func(*bedrockruntime.Options)) *BedrockClient {
	return &BedrockClient{
		Region:    cfg.Region,
		Model:     model,
		Timeout:   timeout,
		MaxTokens: 2048,
		svc:       bedrockruntime.NewFromConfig(cfg, optFns...),
	}
}

// Name returns provider name
func (b *BedrockClient) Name() string { return "bedrock" }

// Generate sends a prompt to Bedrock and returns the generated text
func (b *BedrockClient) Generate(ctx context.Context, prompt string) (string, error) {
	switch detectBedrockFamily(b.Model) {
	case "anthropic":
		return b.generateAnthropic(ctx, prompt)
	default:
		return "", fmt.Errorf("unsupported Bedrock model family for %q", b.Model)
	}
}

// normalizeModelID appends the :0 revision to bare model ids; ARNs and inference profiles pass through
func normalizeModelID(model string) string {
	lower := strings.ToLower(model)
	if strings.HasPrefix(lower, "arn:") || strings.Contains(lower, "inference-profile/") || strings.Contains(model, ":") {
		return model
	}
	return model + ":0"
}

func (b *BedrockClient) generateAnthropic(ctx context.Context, prompt string) (string, error) {
	modelID := normalizeModelID(b.Model)
	payload := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        b.MaxTokens,
		"temperature":       0.2,
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": prompt},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode bedrock request: %w", err)
	}

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	out, err := b.svc.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", annotateBedrockError(fmt.Errorf("bedrock invoke error: %w", err), modelID)
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		OutputText string `json:"outputText"`
	}
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decode bedrock response: %w", err)
	}
	for _, c := range resp.Content {
		if c.Type == "text" && strings.TrimSpace(c.Text) != "" {
			return CleanOutput(c.Text), nil
		}
	}
	if strings.TrimSpace(resp.OutputText) != "" {
		return CleanOutput(resp.OutputText), nil
	}
	return "", fmt.Errorf("empty response from Bedrock model %s", modelID)
}

func detectBedrockFamily(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.Contains(m, "anthropic."):
		return "anthropic"
	case strings.Contains(m, "meta."):
		return "meta"
	case strings.Contains(m, "amazon.titan"):
		return "titan"
	default:
		return ""
	}
}

// annotateBedrockError adds common hints for Bedrock model ID issues
func annotateBedrockError(err error, modelID string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "validationexception") && strings.Contains(msg, "throughput isn't supported") {
		return fmt.Errorf("%w\nhint: this model may require an inference profile; set llm.model to the profile ID/ARN for %q", err, modelID)
	}
	if strings.Contains(msg, "provided model identifier is invalid") {
		return fmt.Errorf("%w\nhint: verify the exact Bedrock model id; regional prefixes (us.) and the :0 revision may be required", err)
	}
	return err
}
