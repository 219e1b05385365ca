package browseruse

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"agentstudio/internal/domain/task"
)

// Browser defaults sent with every run-task request.
const (
	DefaultLLMModel       = "gpt-4.1"
	DefaultMaxAgentSteps  = 150
	DefaultProxyCountry   = "us"
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 960
)

// StartRequest is what a caller supplies to launch a research task.
type StartRequest struct {
	CompanyName string
	Website     string
	TaskType    string
}

// RunTaskRequest is the POST /run-task payload.
type RunTaskRequest struct {
	Task                  string   `json:"task"`
	AllowedDomains        []string `json:"allowed_domains,omitempty"`
	SaveBrowserData       bool     `json:"save_browser_data"`
	LLMModel              string   `json:"llm_model"`
	UseAdblock            bool     `json:"use_adblock"`
	UseProxy              bool     `json:"use_proxy"`
	ProxyCountryCode      string   `json:"proxy_country_code"`
	HighlightElements     bool     `json:"highlight_elements"`
	BrowserViewportWidth  int      `json:"browser_viewport_width"`
	BrowserViewportHeight int      `json:"browser_viewport_height"`
	MaxAgentSteps         int      `json:"max_agent_steps"`
	EnablePublicShare     bool     `json:"enable_public_share"`
	StructuredOutputJSON  *string  `json:"structured_output_json"`
}

// StartResult is the decoded run-task response.
type StartResult struct {
	ID      string      `json:"id"`
	Status  task.Status `json:"status,omitempty"`
	LiveURL string      `json:"live_url,omitempty"`
}

// TaskStatus is the decoded GET /task/{id} response.
type TaskStatus struct {
	ID             string          `json:"id"`
	Status         task.Status     `json:"status"`
	Steps          []StepPayload   `json:"steps"`
	Output         json.RawMessage `json:"output,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
	FinishedAt     string          `json:"finished_at,omitempty"`
	OutputFiles    []OutputFile    `json:"output_files"`
	LiveURL        string          `json:"live_url,omitempty"`
	PublicShareURL string          `json:"public_share_url,omitempty"`
	Screenshots    []Screenshot    `json:"screenshots,omitempty"`
}

// HasOutput reports whether the remote sent a non-null output payload.
func (s *TaskStatus) HasOutput() bool {
	trimmed := bytes.TrimSpace(s.Output)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// DomainSteps converts the wire steps, preserving arrival order.
func (s *TaskStatus) DomainSteps() []task.Step {
	steps := make([]task.Step, 0, len(s.Steps))
	for _, p := range s.Steps {
		steps = append(steps, p.DomainStep())
	}
	return steps
}

// StepPayload is a step as the remote reports it, including the optional
// screenshot fields some deployments embed.
type StepPayload struct {
	ID                     FlexibleID `json:"id"`
	Step                   int        `json:"step"`
	EvaluationPreviousGoal string     `json:"evaluation_previous_goal,omitempty"`
	NextGoal               string     `json:"next_goal,omitempty"`
	URL                    string     `json:"url,omitempty"`
	ScreenshotURL          string     `json:"screenshot_url,omitempty"`
	Screenshot             string     `json:"screenshot,omitempty"`
	ImageURL               string     `json:"image_url,omitempty"`
	Image                  string     `json:"image,omitempty"`
}

// DomainStep converts the payload into the domain step.
func (p StepPayload) DomainStep() task.Step {
	return task.Step{
		ID:                     string(p.ID),
		Number:                 p.Step,
		EvaluationPreviousGoal: p.EvaluationPreviousGoal,
		NextGoal:               p.NextGoal,
		URL:                    p.URL,
	}
}

// EmbeddedScreenshot returns the first populated screenshot field.
func (p StepPayload) EmbeddedScreenshot() string {
	return firstNonEmpty(p.ScreenshotURL, p.Screenshot, p.ImageURL, p.Image)
}

// Screenshot is an entry of the optional top-level screenshots array.
type Screenshot struct {
	StepID FlexibleID `json:"step_id"`
	URL    string     `json:"url"`
}

// OutputFile names a file the task produced. The remote sends either a bare
// file name or an object.
type OutputFile struct {
	Name string
	Size int64
}

func (f *OutputFile) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		f.Name = name
		return nil
	}
	var obj struct {
		FileName string `json:"file_name"`
		Name     string `json:"name"`
		Size     int64  `json:"size"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	f.Name = firstNonEmpty(obj.FileName, obj.Name)
	f.Size = obj.Size
	return nil
}

func (f OutputFile) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Name)
}

// FlexibleID accepts string or numeric JSON identifiers.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = FlexibleID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = FlexibleID(n.String())
	return nil
}

// ScreenshotFor looks for a screenshot of stepID inside a full status
// payload: first on the matching step, then in the screenshots array.
func (s *TaskStatus) ScreenshotFor(stepID string) string {
	for _, p := range s.Steps {
		if string(p.ID) != stepID {
			continue
		}
		if loc := p.EmbeddedScreenshot(); loc != "" {
			return loc
		}
		break
	}
	for _, shot := range s.Screenshots {
		if string(shot.StepID) == stepID && strings.TrimSpace(shot.URL) != "" {
			return shot.URL
		}
	}
	return ""
}

// screenshotPayload is the JSON shape a screenshot endpoint may return.
type screenshotPayload struct {
	ScreenshotURL string `json:"screenshot_url"`
	ImageURL      string `json:"image_url"`
	URL           string `json:"url"`
}

// ScreenshotLocation extracts a screenshot URL from a JSON endpoint body.
func ScreenshotLocation(body []byte) (string, bool) {
	var p screenshotPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", false
	}
	loc := firstNonEmpty(p.ScreenshotURL, p.ImageURL, p.URL)
	return loc, loc != ""
}

type fileURLPayload struct {
	DownloadURL string `json:"download_url"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
