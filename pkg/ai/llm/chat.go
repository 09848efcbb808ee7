package llm

// ChatOptions configures a Chat call. Zero values mean "let the provider
// pick its own default" — providers only set a param when the matching
// field is non-zero.
type ChatOptions struct {
	Model               string
	Temperature         float32
	TopP                float32
	MaxTokens           int
	MaxCompletionTokens int
	PresencePenalty     float32
	FrequencyPenalty    float32
	Stop                []string
	Seed                int64
	User                string
	LogitBias           map[int]int
	ReasoningEffort     string
	Tools               []Tool
	Functions           []Function
	ToolChoice          any
	ResponseFormat      *ResponseFormat
	JSONMode            bool
}

// DefaultOptions returns the baseline ChatOptions every provider starts
// from before applying the caller's Options.
func DefaultOptions() *ChatOptions {
	return &ChatOptions{
		Temperature: 0.7,
	}
}

// Option mutates a ChatOptions in place.
type Option func(*ChatOptions)

func WithModel(model string) Option {
	return func(o *ChatOptions) { o.Model = model }
}

func WithTemperature(t float32) Option {
	return func(o *ChatOptions) { o.Temperature = t }
}

func WithTopP(p float32) Option {
	return func(o *ChatOptions) { o.TopP = p }
}

func WithMaxTokens(n int) Option {
	return func(o *ChatOptions) { o.MaxTokens = n }
}

func WithMaxCompletionTokens(n int) Option {
	return func(o *ChatOptions) { o.MaxCompletionTokens = n }
}

func WithPresencePenalty(p float32) Option {
	return func(o *ChatOptions) { o.PresencePenalty = p }
}

func WithFrequencyPenalty(p float32) Option {
	return func(o *ChatOptions) { o.FrequencyPenalty = p }
}

func WithStop(stop ...string) Option {
	return func(o *ChatOptions) { o.Stop = stop }
}

func WithSeed(seed int64) Option {
	return func(o *ChatOptions) { o.Seed = seed }
}

func WithUser(user string) Option {
	return func(o *ChatOptions) { o.User = user }
}

func WithTools(tools ...Tool) Option {
	return func(o *ChatOptions) { o.Tools = tools }
}

func WithToolChoice(choice any) Option {
	return func(o *ChatOptions) { o.ToolChoice = choice }
}

func WithReasoningEffort(effort string) Option {
	return func(o *ChatOptions) { o.ReasoningEffort = effort }
}

func WithJSONMode() Option {
	return func(o *ChatOptions) { o.JSONMode = true }
}

// Response is the result of a non-streaming Chat call.
type Response struct {
	Message Message
	Usage   Usage
}

// Stream is a handle to an in-flight streaming Chat call. Next returns
// io.EOF once the stream is exhausted.
type Stream interface {
	Next() (Message, error)
	Close() error
}
