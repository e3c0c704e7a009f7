package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/agentcore/framework"
)

const (
	// DefaultEndpoint is where a local Ollama daemon listens.
	DefaultEndpoint = "http://localhost:11434"
	defaultModel    = "codellama"
	defaultTimeout  = 3 * time.Minute
	maxErrorBody    = 4096
)

// Client talks to an Ollama daemon. Generate uses /api/generate for the
// prompt-driven strategies; ChatWithTools uses /api/chat with native tool
// definitions. Both send the caller's Format so the daemon constrains the
// reply to JSON or to a schema.
type Client struct {
	Endpoint string
	Model    string
	Logger   *zap.Logger
	client   *http.Client
}

// sampling is the subset of Ollama's "options" object the agents set.
type sampling struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  json.RawMessage `json:"format,omitempty"`
	Options *sampling       `json:"options,omitempty"`
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Tools    []toolDef       `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  *sampling       `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolName  string     `json:"tool_name,omitempty"`
	ToolCalls []wireCall `json:"tool_calls,omitempty"`
}

type wireCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolDef struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Parameters  jsonSchema `json:"parameters"`
}

type jsonSchema struct {
	Type       string                `json:"type"`
	Properties map[string]schemaProp `json:"properties"`
	Required   []string              `json:"required,omitempty"`
}

type schemaProp struct {
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// reply covers both endpoints: generate fills Response, chat fills Message.
type reply struct {
	Response        string       `json:"response"`
	Message         *chatMessage `json:"message"`
	DoneReason      string       `json:"done_reason"`
	EvalCount       int          `json:"eval_count"`
	PromptEvalCount int          `json:"prompt_eval_count"`
	Error           string       `json:"error"`
}

// NewClient builds a client. timeout bounds each HTTP exchange; zero keeps
// the three minute default.
func NewClient(endpoint, model string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

// Generate completes a single prompt.
func (c *Client) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	req := generateRequest{
		Model:   c.model(options),
		Prompt:  prompt,
		Format:  formatOf(options),
		Options: samplingOf(options),
	}
	var out reply
	if err := c.post(ctx, "/api/generate", req, &out); err != nil {
		return nil, err
	}
	return out.toResponse(), nil
}

// ChatWithTools sends the conversation with the tool schemas attached.
func (c *Client) ChatWithTools(ctx context.Context, messages []framework.Message, tools []framework.ToolSchema, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	req := chatRequest{
		Model:    c.model(options),
		Messages: make([]chatMessage, 0, len(messages)),
		Format:   formatOf(options),
		Options:  samplingOf(options),
	}
	for _, msg := range messages {
		wire, err := toWireMessage(msg)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, wire)
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, toToolDef(tool))
	}
	var out reply
	if err := c.post(ctx, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return out.toResponse(), nil
}

func (c *Client) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return defaultModel
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Client) httpClient() *http.Client {
	if c.client == nil {
		c.client = &http.Client{Timeout: defaultTimeout}
	}
	return c.client
}

// post sends payload and decodes the reply into out. Non-2xx statuses and
// replies carrying an "error" field become errors.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ollama: encode request: %w", err)
	}
	log := c.logger().With(zap.String("path", path))
	log.Debug("ollama request", zap.Int("bytes", len(body)), zap.String("payload", framework.Clip(string(body), 2048)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if detail := errorDetail(raw); detail != "" {
			return fmt.Errorf("ollama: %s: %s", resp.Status, detail)
		}
		return fmt.Errorf("ollama: %s", resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ollama: read response: %w", err)
	}
	log.Debug("ollama response", zap.String("payload", framework.Clip(string(raw), 2048)))
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ollama: decode response: %w", err)
	}
	if r, ok := out.(*reply); ok && r.Error != "" {
		return fmt.Errorf("ollama: %s", r.Error)
	}
	return nil
}

// errorDetail prefers the daemon's {"error": "..."} body over raw text.
func errorDetail(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

func formatOf(options *framework.LLMOptions) json.RawMessage {
	if options == nil || len(options.Format) == 0 {
		return nil
	}
	return options.Format
}

func samplingOf(options *framework.LLMOptions) *sampling {
	if options == nil {
		return nil
	}
	s := sampling{
		Temperature: options.Temperature,
		NumPredict:  options.MaxTokens,
		TopP:        options.TopP,
		Stop:        options.Stop,
	}
	if s.Temperature == 0 && s.NumPredict == 0 && s.TopP == 0 && len(s.Stop) == 0 {
		return nil
	}
	return &s
}

func toWireMessage(msg framework.Message) (chatMessage, error) {
	wire := chatMessage{Role: msg.Role, Content: msg.Content}
	if msg.Role == "tool" {
		wire.ToolName = msg.Name
	}
	for _, call := range msg.ToolCalls {
		args := call.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		encoded, err := json.Marshal(args)
		if err != nil {
			return chatMessage{}, fmt.Errorf("ollama: encode arguments of %s: %w", call.Name, err)
		}
		wire.ToolCalls = append(wire.ToolCalls, wireCall{
			ID:       call.ID,
			Type:     "function",
			Function: wireFunction{Name: call.Name, Arguments: encoded},
		})
	}
	return wire, nil
}

func toToolDef(tool framework.ToolSchema) toolDef {
	params := jsonSchema{Type: "object", Properties: make(map[string]schemaProp, len(tool.Parameters))}
	for _, p := range tool.Parameters {
		params.Properties[p.Name] = schemaProp{Type: p.Type, Description: p.Description, Default: p.Default}
		if p.Required {
			params.Required = append(params.Required, p.Name)
		}
	}
	return toolDef{
		Type:     "function",
		Function: toolFunction{Name: tool.Name, Description: tool.Description, Parameters: params},
	}
}

func (r *reply) toResponse() *framework.LLMResponse {
	resp := &framework.LLMResponse{Text: r.Response, FinishReason: r.DoneReason}
	if r.Message != nil {
		if resp.Text == "" {
			resp.Text = r.Message.Content
		}
		for _, call := range r.Message.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, framework.ToolCall{
				ID:   call.ID,
				Name: call.Function.Name,
				Args: parseArguments(call.Function.Arguments),
			})
		}
	}
	if r.EvalCount > 0 || r.PromptEvalCount > 0 {
		resp.Usage = map[string]int{
			"completion_tokens": r.EvalCount,
			"prompt_tokens":     r.PromptEvalCount,
		}
	}
	return resp
}

// parseArguments accepts an object, a JSON-encoded object string, or anything
// else (kept under "_raw").
func parseArguments(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]interface{}{}
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		return obj
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		var nested map[string]interface{}
		if err := json.Unmarshal([]byte(str), &nested); err == nil && nested != nil {
			return nested
		}
		return map[string]interface{}{"value": str}
	}
	return map[string]interface{}{"_raw": string(raw)}
}
