package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sawitlab/tanya/internal/bus"
	"github.com/sawitlab/tanya/internal/channels"
)

// commandNames are the slash commands this channel answers.
var commandNames = map[string]bool{"chat": true, "ask": true}

// optionNames are the accepted question option names, in preference order.
var optionNames = []string{"q", "prompt", "text", "pesan"}

// Normalize converts an application-command interaction into the canonical
// inbound message. The interaction token becomes the reply target for the
// follow-up webhook.
func Normalize(interaction *discordgo.Interaction, receivedAt time.Time) (bus.InboundMessage, error) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return bus.InboundMessage{}, fmt.Errorf("%w: not an application command", channels.ErrMalformedPayload)
	}

	data := interaction.ApplicationCommandData()
	if !commandNames[data.Name] {
		return bus.InboundMessage{}, fmt.Errorf("%w: unsupported command %q", channels.ErrMalformedPayload, data.Name)
	}

	var question string
	for _, want := range optionNames {
		for _, opt := range data.Options {
			if opt.Name == want && opt.Type == discordgo.ApplicationCommandOptionString {
				question = opt.StringValue()
				break
			}
		}
		if question != "" {
			break
		}
	}
	if question == "" {
		return bus.InboundMessage{}, fmt.Errorf("%w: missing question option", channels.ErrMalformedPayload)
	}

	userID := "anonymous"
	switch {
	case interaction.Member != nil && interaction.Member.User != nil:
		userID = interaction.Member.User.ID
	case interaction.User != nil:
		userID = interaction.User.ID
	}

	return bus.InboundMessage{
		Channel:        bus.ChannelDiscord,
		ExternalUserID: userID,
		MessageID:      interaction.ID,
		Text:           question,
		ReceivedAt:     receivedAt,
		ReplyTarget:    interaction.Token,
	}, nil
}
