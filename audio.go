package main

import "strings"

// DefaultModel is used whenever a request does not name one.
const DefaultModel = "chirp-v3-5"

// Clip progress states reported by the feed.
const (
	StatusSubmitted = "submitted"
	StatusQueued    = "queued"
	StatusStreaming = "streaming"
	StatusComplete  = "complete"
	StatusError     = "error"
)

// AudioInfo is the client-facing shape of one generated clip.
type AudioInfo struct {
	ID                   string  `json:"id"`
	Title                string  `json:"title,omitempty"`
	ImageURL             string  `json:"image_url,omitempty"`
	Lyric                string  `json:"lyric,omitempty"`
	AudioURL             string  `json:"audio_url,omitempty"`
	VideoURL             string  `json:"video_url,omitempty"`
	CreatedAt            string  `json:"created_at"`
	ModelName            string  `json:"model_name"`
	Status               string  `json:"status"`
	GPTDescriptionPrompt string  `json:"gpt_description_prompt,omitempty"`
	Prompt               string  `json:"prompt"`
	Type                 string  `json:"type"`
	Tags                 string  `json:"tags,omitempty"`
	NegativeTags         string  `json:"negative_tags,omitempty"`
	Duration             float64 `json:"duration,omitempty"`
	ErrorMessage         string  `json:"error_message,omitempty"`
}

// Terminal reports whether the clip will not change status any more.
func (a AudioInfo) Terminal() bool {
	return a.Status == StatusComplete || a.Status == StatusError
}

// clip is the remote wire shape.
type clip struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	ImageURL  string       `json:"image_url"`
	AudioURL  string       `json:"audio_url"`
	VideoURL  string       `json:"video_url"`
	CreatedAt string       `json:"created_at"`
	ModelName string       `json:"model_name"`
	Status    string       `json:"status"`
	Metadata  clipMetadata `json:"metadata"`
}

type clipMetadata struct {
	Prompt               string  `json:"prompt"`
	GPTDescriptionPrompt string  `json:"gpt_description_prompt"`
	Type                 string  `json:"type"`
	Tags                 string  `json:"tags"`
	NegativeTags         string  `json:"negative_tags"`
	Duration             float64 `json:"duration"`
	ErrorMessage         string  `json:"error_message"`
}

type clipsResponse struct {
	Clips []clip `json:"clips"`
}

func (c clip) toAudioInfo() AudioInfo {
	return AudioInfo{
		ID:                   c.ID,
		Title:                c.Title,
		ImageURL:             c.ImageURL,
		Lyric:                parseLyrics(c.Metadata.Prompt),
		AudioURL:             c.AudioURL,
		VideoURL:             c.VideoURL,
		CreatedAt:            c.CreatedAt,
		ModelName:            c.ModelName,
		Status:               c.Status,
		GPTDescriptionPrompt: c.Metadata.GPTDescriptionPrompt,
		Prompt:               c.Metadata.Prompt,
		Type:                 c.Metadata.Type,
		Tags:                 c.Metadata.Tags,
		NegativeTags:         c.Metadata.NegativeTags,
		Duration:             c.Metadata.Duration,
		ErrorMessage:         c.Metadata.ErrorMessage,
	}
}

func toAudioInfos(clips []clip) []AudioInfo {
	out := make([]AudioInfo, len(clips))
	for i, c := range clips {
		out[i] = c.toAudioInfo()
	}
	return out
}

// parseLyrics drops blank lines from a lyric prompt.
func parseLyrics(prompt string) string {
	lines := strings.Split(prompt, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func allTerminal(infos []AudioInfo) bool {
	if len(infos) == 0 {
		return false
	}
	for _, info := range infos {
		if !info.Terminal() {
			return false
		}
	}
	return true
}
