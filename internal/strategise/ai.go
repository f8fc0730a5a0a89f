package strategise

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	messagesURL       = "https://api.anthropic.com/v1/messages"
	messagesVersion   = "2023-06-01"
	defaultBriefModel = "claude-sonnet-4-20250514"
	briefMaxTokens    = 1024
	briefTimeout      = 60 * time.Second
)

// briefSystemPrompt frames the model as a chess coach writing the brief.
const briefSystemPrompt = `You are a grandmaster chess coach. You are given a statistical head-to-head comparison between a player and their upcoming opponent: style profiles, opening battlegrounds where both have game data, the opponent's habitual inaccuracies reachable from the player's repertoire, and the player's own preparation gaps.

Write a strategic preparation brief in 3-4 focused paragraphs covering:
1. The overall style matchup and what it means for the game.
2. How to exploit the opponent's specific weaknesses (name the moves).
3. Which prep gaps the player must fix or steer away from.
4. One clear, actionable opening recommendation.

Be direct and concrete, use chess terminology, and reference specific moves and win rates from the data.`

// AIClient calls the Anthropic Messages API to synthesize the brief.
type AIClient struct {
	httpc   *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewAIClient returns a client for the given API key. An empty model
// selects the default.
func NewAIClient(apiKey, model string) *AIClient {
	if model == "" {
		model = defaultBriefModel
	}
	return &AIClient{
		httpc:   &http.Client{Timeout: briefTimeout},
		baseURL: messagesURL,
		apiKey:  apiKey,
		model:   model,
	}
}

// Brief generates the strategic brief for a finished report.
func (c *AIClient) Brief(report *Report) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key is required for brief generation")
	}
	return c.call(briefSystemPrompt, buildBriefPrompt(report))
}

// messagesRequest is the request body for the Messages API.
type messagesRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	System    string            `json:"system"`
	Messages  []messagesMessage `json:"messages"`
}

type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the response body from the Messages API.
type messagesResponse struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Content []contentBlock `json:"content"`
	Error   *messagesError `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// call sends a single-message request and returns the concatenated text
// content of the response.
func (c *AIClient) call(systemPrompt, userPrompt string) (string, error) {
	reqBody := messagesRequest{
		Model:     c.model,
		MaxTokens: briefMaxTokens,
		System:    systemPrompt,
		Messages: []messagesMessage{
			{Role: "user", Content: userPrompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", messagesVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBytes))
	}

	var apiResp messagesResponse
	if err := json.Unmarshal(respBytes, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshaling response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("API error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var textParts []string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	if len(textParts) == 0 {
		return "", fmt.Errorf("no text content in API response")
	}
	return strings.Join(textParts, ""), nil
}

// buildBriefPrompt renders the report data as the user message.
func buildBriefPrompt(r *Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Prepare %s (playing %s on %s) to face %s (playing %s on %s).\n\n",
		r.Player.Username, r.Player.Color, r.Player.Platform,
		r.Opponent.Username, r.Opponent.Color, r.Opponent.Platform)

	writeStyle := func(title string, s StyleProfile) {
		fmt.Fprintf(&sb, "## %s\n", title)
		fmt.Fprintf(&sb, "- %d opening positions indexed\n", s.TotalPositions)
		fmt.Fprintf(&sb, "- Average win rate: %.1f%%\n", s.AvgWinRate*100)
		fmt.Fprintf(&sb, "- Aggression: %.1f%%  Solidness: %.1f%%  Diversity: %.1f%%\n\n",
			s.AggressionScore*100, s.SolidnessScore*100, s.OpeningDiversity*100)
	}
	writeStyle("Player Style", r.PlayerStyle)
	writeStyle("Opponent Style", r.OpponentStyle)

	sb.WriteString("## Opening Battlegrounds (positions where both players have data)\n")
	for i, bg := range r.Battlegrounds {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "- Player %dg @ %.0f%% WR, Opp %dg @ %.0f%% WR, advantage: %s (player plays %s, opp responds %s)\n",
			bg.PlayerGames, bg.PlayerWinRate*100, bg.OpponentGames, bg.OpponentWinRate*100,
			bg.Advantage, bg.PlayerTopMoveSAN, bg.OpponentTopResponseSAN)
	}

	sb.WriteString("\n## Opponent Weaknesses Reachable From Player's Repertoire\n")
	for i, w := range r.OpponentWeaknesses {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "- Opponent plays %s in %d games (best: %s, gap: %+.0fcp, score: %.1f)\n",
			w.PlayerMoveSAN, w.TotalGames, w.BestMoveSAN, w.EvalGapCP, w.Score)
	}

	sb.WriteString("\n## Player Prep Gaps (player plays poorly, opponent knows well)\n")
	for i, g := range r.PrepGaps {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "- Player plays %s in %d games (best: %s, gap: %+.0fcp, opponent has %d games here)\n",
			g.PlayerMoveSAN, g.TotalGames, g.BestMoveSAN, g.EvalGapCP, g.OpponentGamesHere)
	}

	return sb.String()
}
