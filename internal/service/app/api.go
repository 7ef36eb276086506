package app

import (
	"net/url"

	"github.com/gorilla/websocket"
)

func (c *App) initWebhook(name string) (*websocket.Conn, error) {
	params := url.Values{
		"userID": []string{name},
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     c.opts.ServerHost,
		Path:     "/init",
		RawQuery: params.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	return conn, nil
}
