package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Training statuses emitted by the provider.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Error carries the provider's original diagnostics. Provider-side failures
// are the ones most likely to need human debugging (quota, billing, hardware
// availability), so the status code and body are preserved verbatim.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

type Client struct {
	client *resty.Client
	owner  string
}

func NewClient(baseURL, token, owner string) *Client {
	return &Client{
		client: resty.New().
			SetBaseURL(baseURL).
			SetAuthToken(token).
			SetTimeout(60 * time.Second),
		owner: owner,
	}
}

// Owner is the provider-side account under which destination models are
// registered.
func (c *Client) Owner() string {
	return c.owner
}

type TrainingInput struct {
	InputImages  string  `json:"input_images"`
	TriggerWord  string  `json:"trigger_word"`
	Steps        int     `json:"steps"`
	LearningRate float64 `json:"learning_rate"`
	LoraRank     int     `json:"lora_rank"`
	Optimizer    string  `json:"optimizer"`
	Resolution   string  `json:"resolution"`
	BatchSize    int     `json:"batch_size"`
}

type TrainingOutput struct {
	Version string `json:"version"`
	Weights string `json:"weights"`
}

type Training struct {
	Id     string          `json:"id"`
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Output *TrainingOutput `json:"output"`
	Raw    json.RawMessage `json:"-"`
}

// CreateModel registers a destination model. A conflict response means the
// destination already exists, which callers treat as success.
func (c *Client) CreateModel(ctx context.Context, name, description string) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"owner":       c.owner,
			"name":        name,
			"description": description,
			"visibility":  "private",
			"hardware":    "gpu-t4",
		}).
		Post("/v1/models")
	if err != nil {
		return fmt.Errorf("unable to reach provider to create model %s: %w", name, err)
	}

	if res.StatusCode() == http.StatusConflict {
		slog.Info("destination model already exists", "name", name)
		return nil
	}
	if !res.IsSuccess() {
		return &Error{StatusCode: res.StatusCode(), Body: res.String()}
	}
	return nil
}

type createTrainingRequest struct {
	Destination string        `json:"destination"`
	Input       TrainingInput `json:"input"`
	Webhook     string        `json:"webhook,omitempty"`
}

// CreateTraining submits a fine-tune of baseVersion against the archive and
// hyperparameters in input. webhook may be empty.
func (c *Client) CreateTraining(ctx context.Context, baseVersion, destination string, input TrainingInput, webhook string) (*Training, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(createTrainingRequest{
			Destination: destination,
			Input:       input,
			Webhook:     webhook,
		}).
		Post("/v1/trainings/" + baseVersion)
	if err != nil {
		return nil, fmt.Errorf("unable to reach provider to create training: %w", err)
	}
	if !res.IsSuccess() {
		return nil, &Error{StatusCode: res.StatusCode(), Body: res.String()}
	}

	return parseTraining(res.Body())
}

func (c *Client) GetTraining(ctx context.Context, id string) (*Training, error) {
	res, err := c.client.R().
		SetContext(ctx).
		Get("/v1/trainings/" + id)
	if err != nil {
		return nil, fmt.Errorf("unable to reach provider to get training %s: %w", id, err)
	}
	if !res.IsSuccess() {
		return nil, &Error{StatusCode: res.StatusCode(), Body: res.String()}
	}

	return parseTraining(res.Body())
}

// CancelTraining is best-effort compensation for a training whose local
// record could not be written.
func (c *Client) CancelTraining(ctx context.Context, id string) error {
	res, err := c.client.R().
		SetContext(ctx).
		Post("/v1/trainings/" + id + "/cancel")
	if err != nil {
		return fmt.Errorf("unable to reach provider to cancel training %s: %w", id, err)
	}
	if !res.IsSuccess() {
		return &Error{StatusCode: res.StatusCode(), Body: res.String()}
	}
	return nil
}

func parseTraining(body []byte) (*Training, error) {
	var training Training
	if err := json.Unmarshal(body, &training); err != nil {
		return nil, fmt.Errorf("error parsing training response from provider: %w", err)
	}
	training.Raw = append([]byte(nil), body...)
	return &training, nil
}

type Prediction struct {
	Id     string          `json:"id"`
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Output []string        `json:"output"`
	Raw    json.RawMessage `json:"-"`
}

// CreatePrediction runs inference against a trained version.
func (c *Client) CreatePrediction(ctx context.Context, version, prompt string) (*Prediction, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"version": version,
			"input":   map[string]string{"prompt": prompt},
		}).
		Post("/v1/predictions")
	if err != nil {
		return nil, fmt.Errorf("unable to reach provider to create prediction: %w", err)
	}
	if !res.IsSuccess() {
		return nil, &Error{StatusCode: res.StatusCode(), Body: res.String()}
	}

	return parsePrediction(res.Body())
}

func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	res, err := c.client.R().
		SetContext(ctx).
		Get("/v1/predictions/" + id)
	if err != nil {
		return nil, fmt.Errorf("unable to reach provider to get prediction %s: %w", id, err)
	}
	if !res.IsSuccess() {
		return nil, &Error{StatusCode: res.StatusCode(), Body: res.String()}
	}

	return parsePrediction(res.Body())
}

func parsePrediction(body []byte) (*Prediction, error) {
	var prediction Prediction
	if err := json.Unmarshal(body, &prediction); err != nil {
		return nil, fmt.Errorf("error parsing prediction response from provider: %w", err)
	}
	prediction.Raw = append([]byte(nil), body...)
	return &prediction, nil
}
