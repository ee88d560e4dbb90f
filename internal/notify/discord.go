package notify

import (
	"context"
	"fmt"
	"net/http"
)

// Embed colors per severity.
var discordColors = map[Severity]int{
	SeverityInfo:     0x2ecc71,
	SeverityWarning:  0xf1c40f,
	SeverityCritical: 0xe74c3c,
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title  string         `json:"title"`
	Color  int            `json:"color"`
	Fields []discordField `json:"fields"`
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

// DiscordSender posts alerts to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

func discordMessage(msg Message) discordPayload {
	embed := discordEmbed{Title: msg.Title, Color: discordColors[msg.Severity]}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, discordField{Name: f.Name, Value: f.Value, Inline: len(f.Value) < 24})
	}
	p := discordPayload{Embeds: []discordEmbed{embed}}
	if msg.Severity == SeverityCritical {
		p.Content = "@here"
	}
	return p
}

// Send posts msg as a single embed. Critical alerts also ping @here.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	if err := postJSON(ctx, d.client, d.webhookURL, discordMessage(msg)); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
