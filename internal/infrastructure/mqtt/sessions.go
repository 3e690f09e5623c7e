package mqtt

// SessionReleaser drops every reservation held by a session.
type SessionReleaser interface {
	ReleaseBySession(session string) (string, bool)
}

// SubscribeSessionDisconnects releases reservations for sessions announced
// on fpcore/session/+/disconnected. Payloads are ignored.
func (c *Client) SubscribeSessionDisconnects(qos byte, releaser SessionReleaser) error {
	return c.Subscribe(Topics{}.AllSessionDisconnects(), qos, sessionHandler(releaser, c.log))
}

func sessionHandler(releaser SessionReleaser, logger func() Logger) MessageHandler {
	return func(topic string, _ []byte) error {
		session, err := ParseSessionDisconnected(topic)
		if err != nil {
			return err
		}
		if name, ok := releaser.ReleaseBySession(session); ok {
			logger().Warn("reservation revoked by session disconnect", "session", session, "reader", name)
		}
		return nil
	}
}
