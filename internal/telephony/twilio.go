package telephony

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioConfig configures the Twilio client.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// BaseURL overrides the API host, mainly for tests.
	BaseURL string
	Timeout time.Duration

	// Detection tuning, in seconds and milliseconds as the API expects.
	DetectionTimeout   int
	SpeechThreshold    int
	SpeechEndThreshold int
	SilenceTimeout     int
}

func (c TwilioConfig) withDefaults() TwilioConfig {
	if c.BaseURL == "" {
		c.BaseURL = defaultTwilioBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.DetectionTimeout == 0 {
		c.DetectionTimeout = 30
	}
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = 2400
	}
	if c.SpeechEndThreshold == 0 {
		c.SpeechEndThreshold = 1200
	}
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = 5000
	}
	return c
}

// Twilio places calls through the Twilio REST API with answering machine
// detection enabled.
type Twilio struct {
	config TwilioConfig
	client *resty.Client
}

// NewTwilio creates a Twilio client.
func NewTwilio(cfg TwilioConfig) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, ErrMissingCredentials
	}
	cfg = cfg.withDefaults()
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Twilio{config: cfg, client: client}, nil
}

type twilioCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
	From   string `json:"from"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *twilioError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

func (t *Twilio) callsPath() string {
	return "/2010-04-01/Accounts/" + url.PathEscape(t.config.AccountSID) + "/Calls"
}

// Place implements Provider.
func (t *Twilio) Place(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", t.config.FromNumber)
	if req.AnswerURL != "" {
		form.Set("Url", req.AnswerURL)
	}
	if req.StatusCallback != "" {
		form.Set("StatusCallback", req.StatusCallback)
		form.Set("StatusCallbackMethod", "POST")
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	form.Set("MachineDetection", "Enable")
	form.Set("MachineDetectionTimeout", strconv.Itoa(t.config.DetectionTimeout))
	form.Set("MachineDetectionSpeechThreshold", strconv.Itoa(t.config.SpeechThreshold))
	form.Set("MachineDetectionSpeechEndThreshold", strconv.Itoa(t.config.SpeechEndThreshold))
	form.Set("MachineDetectionSilenceTimeout", strconv.Itoa(t.config.SilenceTimeout))

	var created twilioCall
	var apiErr twilioError
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		SetResult(&created).
		SetError(&apiErr).
		Post(t.callsPath() + ".json")
	if err != nil {
		return nil, fmt.Errorf("place call: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("place call: %w", errorFrom(resp.StatusCode(), &apiErr))
	}

	return &PlaceResult{
		ExternalID: created.SID,
		Status:     created.Status,
		To:         created.To,
		From:       created.From,
	}, nil
}

// Hangup implements Provider.
func (t *Twilio) Hangup(ctx context.Context, externalID string) error {
	var apiErr twilioError
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"Status": "completed"}).
		SetError(&apiErr).
		Post(t.callsPath() + "/" + url.PathEscape(externalID) + ".json")
	if err != nil {
		return fmt.Errorf("hang up %s: %w", externalID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("hang up %s: %w", externalID, errorFrom(resp.StatusCode(), &apiErr))
	}
	return nil
}

func errorFrom(status int, apiErr *twilioError) error {
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("unexpected status %d", status)
	}
	if apiErr.Status == 0 {
		apiErr.Status = status
	}
	return apiErr
}
