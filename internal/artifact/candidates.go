package artifact

import "net/url"

// candidate is one remote location that may serve a step screenshot.
type candidate struct {
	name string
	path func(taskID, stepID string) string
}

// screenshotCandidates are probed in order; the first hit wins.
var screenshotCandidates = []candidate{
	{
		name: "task_step_screenshot",
		path: func(taskID, stepID string) string {
			return "/task/" + url.PathEscape(taskID) + "/step/" + url.PathEscape(stepID) + "/screenshot"
		},
	},
	{
		name: "task_screenshots",
		path: func(taskID, stepID string) string {
			return "/task/" + url.PathEscape(taskID) + "/screenshots/" + url.PathEscape(stepID)
		},
	},
	{
		name: "screenshot",
		path: func(taskID, stepID string) string {
			return "/screenshot/" + url.PathEscape(taskID) + "/" + url.PathEscape(stepID)
		},
	},
}

const statusFallback = "task_status"
