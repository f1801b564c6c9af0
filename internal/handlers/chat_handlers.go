package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/conversation"
	"github.com/pelusa-v/groupchat/internal/hub"
	"github.com/pelusa-v/groupchat/internal/identity"
	"github.com/pelusa-v/groupchat/internal/imagehost"
	"github.com/pelusa-v/groupchat/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
)

var errBadForm = errors.New("malformed form")

type Deps struct {
	Hub       *hub.Hub
	Sessions  *conversation.Sessions
	Profiles  func(device string) *identity.Service
	Reactions []string
	Limiter   *LimiterPool
}

type Server struct {
	hub       *hub.Hub
	sessions  *conversation.Sessions
	profiles  func(device string) *identity.Service
	reactions []string
	limiter   *LimiterPool
}

func New(d Deps) *Server {
	reactions := d.Reactions
	if len(reactions) == 0 {
		reactions = chat.DefaultReactions
	}
	return &Server{
		hub:       d.Hub,
		sessions:  d.Sessions,
		profiles:  d.Profiles,
		reactions: reactions,
		limiter:   d.Limiter,
	}
}

// Routes mounts every page and API route on app.
func (s *Server) Routes(app *fiber.App) {
	app.Use(Device())
	app.Use(func(c *fiber.Ctx) error {
		logger.LogRequest(c)
		return c.Next()
	})

	app.Get("/healthz", s.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/", s.Page)

	app.Use("/api/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/api/ws", websocket.New(s.Websocket))
	app.Get("/api/feed", s.Feed)
	app.Get("/api/session", s.Session)

	limited := RateLimit(s.limiter)
	app.Post("/api/messages", limited, s.SendMessage)
	app.Delete("/api/messages/:id", limited, s.DeleteMessage)
	app.Post("/api/messages/:id/reactions", limited, s.React)
	app.Delete("/api/messages/:id/reactions", limited, s.Unreact)

	app.Get("/api/profile", s.GetProfile)
	app.Post("/api/profile", limited, s.SaveProfile)
	app.Delete("/api/profile", s.Logout)
}

// Websocket GET /api/ws
func (s *Server) Websocket(c *websocket.Conn) {
	device, _ := c.Locals(deviceLocal).(string)
	client := s.hub.NewClient(device, c, s.sessions.Get(device))
	if !s.hub.Register(client) {
		return
	}
	// the conn goes back to the pool when this returns, so both pumps must
	// be finished first
	written := make(chan struct{})
	read := make(chan struct{})
	go func() {
		client.WritePump()
		close(written)
	}()
	go func() {
		client.ReadPump(context.Background())
		close(read)
	}()
	select {
	case <-read:
		s.hub.Unregister(client)
		<-written
	case <-written:
		// the hub stopped and dropped the client
		_ = c.Close()
		<-read
	}
}

// Health GET /healthz
func (s *Server) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Page GET /
func (s *Server) Page(c *fiber.Ctx) error {
	device := DeviceID(c)
	ctrl := s.sessions.Get(device)
	profile, err := s.profiles(device).Store().Get()
	if err != nil {
		return s.fail(c, err)
	}
	return c.Render("chat", fiber.Map{
		"Feed":      ctrl.Feed(),
		"Profile":   profile,
		"State":     ctrl.State(),
		"Reactions": s.reactions,
	})
}

// Feed GET /api/feed
func (s *Server) Feed(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"messages": s.sessions.Get(DeviceID(c)).Feed()})
}

// Session GET /api/session
func (s *Server) Session(c *fiber.Ctx) error {
	device := DeviceID(c)
	profile, err := s.profiles(device).Store().Get()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"device":    device,
		"profile":   profile,
		"state":     s.sessions.Get(device).State(),
		"reactions": s.reactions,
	})
}

// SendMessage POST /api/messages (multipart: text, editing_id, images[])
func (s *Server) SendMessage(c *fiber.Ctx) error {
	device := DeviceID(c)
	files, err := formFiles(c, "images[]", "images")
	if err != nil {
		return s.fail(c, err)
	}
	ctrl := s.sessions.Get(device)
	d := conversation.Draft{
		Text:      c.FormValue("text"),
		EditingID: utils.CopyString(c.FormValue("editing_id")),
		Files:     files,
	}
	out, err := ctrl.Submit(c.UserContext(), d)
	if err != nil {
		return s.fail(c, err)
	}
	s.pushState(device, ctrl)
	status := fiber.StatusCreated
	if out.Edited {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{"message": out, "state": ctrl.State()})
}

// DeleteMessage DELETE /api/messages/:id
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	device := DeviceID(c)
	ctrl := s.sessions.Get(device)
	if err := ctrl.Delete(c.UserContext(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	s.pushState(device, ctrl)
	return c.SendStatus(fiber.StatusNoContent)
}

type reactionBody struct {
	Reaction string `json:"reaction" form:"reaction"`
}

// React POST /api/messages/:id/reactions {"reaction": "👍"}
func (s *Server) React(c *fiber.Ctx) error {
	var body reactionBody
	if err := c.BodyParser(&body); err != nil {
		return s.fail(c, fmt.Errorf("%w: %v", errBadForm, err))
	}
	device := DeviceID(c)
	ctrl := s.sessions.Get(device)
	if err := ctrl.SelectReaction(c.UserContext(), c.Params("id"), body.Reaction); err != nil {
		return s.fail(c, err)
	}
	s.pushState(device, ctrl)
	return c.SendStatus(fiber.StatusNoContent)
}

// Unreact DELETE /api/messages/:id/reactions
func (s *Server) Unreact(c *fiber.Ctx) error {
	device := DeviceID(c)
	ctrl := s.sessions.Get(device)
	if err := ctrl.RetractReaction(c.UserContext(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	s.pushState(device, ctrl)
	return c.SendStatus(fiber.StatusNoContent)
}

// GetProfile GET /api/profile
func (s *Server) GetProfile(c *fiber.Ctx) error {
	profile, err := s.profiles(DeviceID(c)).Store().Get()
	if err != nil {
		return s.fail(c, err)
	}
	if profile == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"notice": conversation.NoticeFor(chat.ErrNoIdentity)})
	}
	return c.JSON(profile)
}

// SaveProfile POST /api/profile (multipart: username, avatar)
// creates the profile on first use and updates it afterwards.
func (s *Server) SaveProfile(c *fiber.Ctx) error {
	files, err := formFiles(c, "avatar")
	if err != nil {
		return s.fail(c, err)
	}
	var avatar *imagehost.File
	if len(files) > 0 {
		avatar = &files[0]
	}
	svc := s.profiles(DeviceID(c))
	exists, err := svc.Store().Exists()
	if err != nil {
		return s.fail(c, err)
	}
	if exists {
		profile, err := svc.UpdateProfile(c.UserContext(), c.FormValue("username"), avatar)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(profile)
	}
	profile, err := svc.CreateProfile(c.UserContext(), c.FormValue("username"), avatar)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(profile)
}

// Logout DELETE /api/profile
func (s *Server) Logout(c *fiber.Ctx) error {
	device := DeviceID(c)
	if err := s.profiles(device).Logout(); err != nil {
		return s.fail(c, err)
	}
	s.sessions.Forget(device)
	logger.Info("profile_removed", "device", device)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) pushState(device string, ctrl *conversation.Controller) {
	st := ctrl.State()
	s.hub.SendTo(device, hub.Frame{Kind: hub.KindState, State: &st})
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	n := conversation.NoticeFor(err)
	status := statusFor(n.Kind)
	if errors.Is(err, errBadForm) {
		n = conversation.Notice{Kind: chat.KindValidation, Message: "The form could not be read."}
		status = fiber.StatusBadRequest
	}
	if status >= fiber.StatusInternalServerError {
		logger.Error("request_failed", "path", c.Path(), "kind", n.Kind, "error", err)
	} else {
		logger.Debug("request_rejected", "path", c.Path(), "kind", n.Kind, "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"notice": n})
}

func statusFor(kind string) int {
	switch kind {
	case chat.KindValidation:
		return fiber.StatusBadRequest
	case chat.KindBusy:
		return fiber.StatusConflict
	case chat.KindForbidden:
		return fiber.StatusForbidden
	case chat.KindNotFound:
		return fiber.StatusNotFound
	case chat.KindUpload:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// formFiles reads the uploaded files under keys. A request that is not
// multipart simply has none.
func formFiles(c *fiber.Ctx, keys ...string) ([]imagehost.File, error) {
	form, err := c.MultipartForm()
	if errors.Is(err, fasthttp.ErrNoMultipartForm) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadForm, err)
	}
	var out []imagehost.File
	for _, key := range keys {
		for _, fh := range form.File[key] {
			data, err := readFile(fh)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errBadForm, err)
			}
			out = append(out, imagehost.File{Name: fh.Filename, Data: data})
		}
	}
	return out, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
