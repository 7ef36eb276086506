package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sealed_chat/internal/model"
	"sealed_chat/internal/service/certclient"
	"sealed_chat/internal/service/fallback"
	"sealed_chat/internal/service/session"
	"sealed_chat/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type (
	UserStore interface {
		GetByName(ctx context.Context, name string) (*model.User, error)
		Create(ctx context.Context, user *model.User) (primitive.ObjectID, error)
	}

	// Directory is everything the client asks the server for: peer keys,
	// its own sender certificate, the key that signs certificates and the
	// revocation list.
	Directory interface {
		fallback.CertificateSource
		fallback.ServerKeySource
		fallback.KeyDirectory
		certclient.RevocationSource
	}

	Options struct {
		ServerHost        string
		DeviceID          uint32
		PreferSealed      bool
		RevocationRefresh time.Duration
	}

	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		userRepo    UserStore
		store       session.StateStore
		directory   Directory
		revocations *certclient.RevocationList
		opts        Options

		user      *model.User
		toName    string
		sessions  *session.Cipher
		messenger *fallback.Service

		conn    *websocket.Conn
		writeMu sync.Mutex
	}
)

func NewApp(userRepo UserStore, store session.StateStore, directory Directory, opts Options) *App {
	if opts.DeviceID == 0 {
		opts.DeviceID = model.DefaultDeviceID
	}
	return &App{
		app:       tview.NewApplication(),
		userRepo:  userRepo,
		store:     store,
		directory: directory,
		revocations: certclient.NewRevocationList(directory,
			certclient.WithRevocationRefresh(opts.RevocationRefresh)),
		opts: opts,
	}
}

func (c *App) Run(ctx context.Context, name string) {
	user, err := c.getUserAndCreateIfNotExist(ctx, name)
	if err != nil {
		log.Fatal("get user info failed", zap.Error(err))
	}
	if err := c.setUser(user); err != nil {
		log.Fatal("init session cipher failed", zap.Error(err))
	}

	var toName string
	fmt.Print("Enter recipient's name: ")
	_, err = fmt.Scan(&toName) // reads until whitespace
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	c.toName = toName

	if _, err := c.directory.GetSharedKeys(ctx, c.toName); err != nil {
		log.Fatal("cannot fetch recipient keys", zap.String("recipient", c.toName), zap.Error(err))
	}

	c.conn, err = c.initWebhook(c.user.Name)
	if err != nil {
		log.Fatal("init webhook to server failed", zap.Error(err))
	}

	go c.listenOnWebhook(ctx)
	c.renderUI(ctx)
}

// Stop closes the relay connection. Session state is persisted after every
// message, so there is nothing else to flush.
func (c *App) Stop() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// blocking function
func (c *App) renderUI(ctx context.Context) {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", c.toName))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" New Message ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := c.input.GetText()
			if text == "" {
				return
			}

			go func(msg string) {
				err := c.SendMessage(ctx, msg)
				if err != nil {
					c.app.Suspend(func() {
						log.Error("Send message failed", zap.Error(err))
					})
				}
			}(text)
		}
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

func (c *App) listenOnWebhook(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.Error(err))
			c.conn.Close()
			break
		}

		var message model.Message
		err = json.Unmarshal(data, &message)
		if err != nil {
			log.Error("Unmarshal message failed", zap.Error(err))
			continue
		}

		if err := c.ReceiveMessage(ctx, &message); err != nil {
			c.app.Suspend(func() {
				log.Error("receive message failed", zap.Bool("sealed", message.Sealed), zap.Error(err))
			})
		}
	}
}

func (c *App) SendMessage(ctx context.Context, msg string) error {
	out, err := c.encode(ctx, c.toName, []byte(msg))
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	err = c.conn.WriteJSON(out)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, "[yellow]You%s:[-] %s\n", deliveryTag(out.Sealed), msg)
		c.input.SetText("")
		c.chatbox.ScrollToEnd()
	})
	return nil
}

func (c *App) ReceiveMessage(ctx context.Context, message *model.Message) error {
	in, err := c.decode(ctx, message)
	if err != nil {
		return err
	}

	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, "[green]%s%s:[-] %s\n", in.SenderID, deliveryTag(in.Sealed), string(in.Plaintext))
		c.chatbox.ScrollToEnd()
	})
	return nil
}

func deliveryTag(sealed bool) string {
	if sealed {
		return " [::d](sealed)[::-]"
	}
	return ""
}
