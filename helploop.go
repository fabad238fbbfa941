package helploop

import (
	"github.com/HelpLoop/helploop-go-sdk/presence"
	"github.com/HelpLoop/helploop-go-sdk/session"
)

// subscribeFunc adapts the client's Subscribe/Unsubscribe pair to the
// cancel-function shape the session and presence packages consume. Owner
// keys the subscription so each consumer gets its own handle on a shared
// topic.
func (c *Client) subscribeFunc(owner string) func(topic string, h func([]byte)) (func(), error) {
	return func(topic string, h func([]byte)) (func(), error) {
		sub, err := c.Subscribe(topic, owner, Handler(h))
		if err != nil {
			return nil, err
		}
		return func() { c.Unsubscribe(sub) }, nil
	}
}

// ChatController builds a session controller for user-to-bot chat riding on
// this client's connection.
func (c *Client) ChatController(api session.API, opts session.Options) *session.Controller {
	if opts.Topic == nil {
		opts.Topic = ChatTopic
	}
	if opts.Language == "" {
		opts.Language = c.cfg.Language
	}
	if opts.Identity.UserID == "" {
		opts.Identity = session.Identity{UserID: c.cfg.UserID, DisplayName: c.cfg.DisplayName}
	}
	return session.NewController(api, session.SubscribeFunc(c.subscribeFunc("chat")), opts)
}

// ComplaintController builds a session controller for complaint-case
// conversations. Same lifecycle as chat, different topic namespace.
func (c *Client) ComplaintController(api session.API, opts session.Options) *session.Controller {
	if opts.Topic == nil {
		opts.Topic = ComplaintTopic
	}
	if opts.Language == "" {
		opts.Language = c.cfg.Language
	}
	if opts.Identity.UserID == "" {
		opts.Identity = session.Identity{UserID: c.cfg.UserID, DisplayName: c.cfg.DisplayName}
	}
	return session.NewController(api, session.SubscribeFunc(c.subscribeFunc("complaint")), opts)
}

// PresenceBroadcaster builds an account-status listener for the configured
// user. Call Start once connected, and again from OnStateChange after a
// reconnect if Start failed while offline.
func (c *Client) PresenceBroadcaster(hooks presence.Hooks) *presence.Broadcaster {
	return presence.NewBroadcaster(c.cfg.UserID, presence.SubscribeFunc(c.subscribeFunc("presence")), hooks)
}
