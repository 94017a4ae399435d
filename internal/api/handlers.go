package api

import (
	"errors"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"chronosend/internal/media"
	"chronosend/internal/recurrence"
	"chronosend/internal/service"
	"chronosend/internal/storage"
	"chronosend/internal/transport"
	logx "chronosend/pkg/logx"
)

type errorBody struct {
	Error  string   `json:"error"`
	Field  string   `json:"field,omitempty"`
	Detail []string `json:"detail,omitempty"`
}

type createTaskRequest struct {
	Phone        string `json:"phone" validate:"required,max=32"`
	Text         string `json:"text" validate:"max=4096"`
	Recurrence   string `json:"recurrence" validate:"max=16"`
	ScheduleDate string `json:"schedule_date" validate:"max=10"`
	ScheduleTime string `json:"schedule_time" validate:"max=5"`
	Owner        string `json:"owner" validate:"omitempty,max=254"`
}

type deleteTasksRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type updateTaskRequest struct {
	Phone        *string `json:"phone" validate:"omitempty,max=32"`
	Text         *string `json:"text" validate:"omitempty,max=4096"`
	Recurrence   *string `json:"recurrence" validate:"omitempty,max=16"`
	ScheduleDate *string `json:"schedule_date" validate:"omitempty,max=10"`
	ScheduleTime *string `json:"schedule_time" validate:"omitempty,max=5"`
	Owner        *string `json:"owner" validate:"omitempty,max=254"`
}

// createTask accepts JSON or multipart/form-data with repeated "media" files.
func (s *Server) createTask(c fiber.Ctx) error {
	var req createTaskRequest
	var files []*multipart.FileHeader

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return s.badRequest(c, "invalid multipart body", "", nil)
		}
		req = createTaskRequest{
			Phone:        c.FormValue("phone"),
			Text:         c.FormValue("text"),
			Recurrence:   c.FormValue("recurrence"),
			ScheduleDate: c.FormValue("schedule_date"),
			ScheduleTime: c.FormValue("schedule_time"),
			Owner:        c.FormValue("owner"),
		}
		files = form.File["media"]
	} else if err := c.Bind().JSON(&req); err != nil {
		return s.badRequest(c, "invalid request body", "", nil)
	}
	if err := s.check(c, &req); err != nil {
		return err
	}

	in := service.CreateInput{
		Phone:        req.Phone,
		Text:         req.Text,
		Recurrence:   req.Recurrence,
		ScheduleDate: req.ScheduleDate,
		ScheduleTime: req.ScheduleTime,
		Owner:        req.Owner,
	}
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return s.badRequest(c, "unreadable media file", "media", nil)
		}
		defer f.Close()
		in.Media = append(in.Media, service.Upload{Name: fh.Filename, Body: f})
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	res, err := s.deps.Tasks.Create(ctx, in)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

func (s *Server) listTasks(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	tasks, err := s.deps.Tasks.List(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"tasks": tasks})
}

func (s *Server) deleteTasks(c fiber.Ctx) error {
	var req deleteTasksRequest
	if err := c.Bind().JSON(&req); err != nil {
		return s.badRequest(c, "invalid request body", "", nil)
	}
	if err := s.check(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	left, err := s.deps.Tasks.Delete(ctx, req.IDs)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"tasks": left})
}

func (s *Server) updateTask(c fiber.Ctx) error {
	var req updateTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return s.badRequest(c, "invalid request body", "", nil)
	}
	if err := s.check(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	t, err := s.deps.Tasks.Update(ctx, c.Params("id"), service.UpdateInput{
		Phone:        req.Phone,
		Text:         req.Text,
		Recurrence:   req.Recurrence,
		ScheduleDate: req.ScheduleDate,
		ScheduleTime: req.ScheduleTime,
		Owner:        req.Owner,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"task": t})
}

func (s *Server) pauseTask(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	t, err := s.deps.Tasks.Pause(ctx, c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"task": t})
}

func (s *Server) resumeTask(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	t, err := s.deps.Tasks.Resume(ctx, c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"task": t})
}

func (s *Server) runTask(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	if err := s.deps.Tasks.RunNow(ctx, c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}

func (s *Server) listReceipts(c fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return s.badRequest(c, "limit must be a non-negative integer", "limit", nil)
		}
		limit = n
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	rs, err := s.deps.Tasks.Receipts(ctx, limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"receipts": rs})
}

func (s *Server) getReceipt(c fiber.Ctx) error {
	ctx, cancel := s.requestContext()
	defer cancel()
	r, err := s.deps.Tasks.Receipt(ctx, c.Params("messageId"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(r)
}

func (s *Server) ackWebhook(c fiber.Ctx) error {
	if s.deps.Gateway == nil || s.deps.Acks == nil {
		return fiber.ErrNotFound
	}
	ev, err := s.deps.Gateway.DecodeAck(c.Body())
	if err != nil {
		return s.badRequest(c, err.Error(), "", nil)
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	// the gateway retries anything but 2xx, so only answer once the ack is stored
	if err := s.deps.Acks.Apply(ctx, ev); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorBody{Error: "ack not stored"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message_id": ev.MessageID, "ack": ev.Level})
}

func (s *Server) session(c fiber.Ctx) error {
	if s.deps.Gateway == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(s.deps.Gateway.Session().Info())
}

func (s *Server) logout(c fiber.Ctx) error {
	if s.deps.Gateway == nil {
		return fiber.ErrNotFound
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	if err := s.deps.Gateway.Logout(ctx); err != nil {
		s.log.Warn("gateway logout failed", logx.Err(err))
		return c.Status(fiber.StatusBadGateway).JSON(errorBody{Error: "logout failed"})
	}
	return c.JSON(fiber.Map{"status": "logged_out"})
}

func (s *Server) schedulerStatus(c fiber.Ctx) error {
	if s.deps.Status == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(s.deps.Status())
}

// check runs struct validation and writes a 400 on failure.
func (s *Server) check(c fiber.Ctx, v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return s.badRequest(c, err.Error(), "", nil)
	}
	detail := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		detail = append(detail, fe.Field()+": failed "+fe.Tag())
	}
	return s.badRequest(c, "validation failed", verrs[0].Field(), detail)
}

func (s *Server) badRequest(c fiber.Ctx, msg, field string, detail []string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: msg, Field: field, Detail: detail})
}

// fail maps use-case errors to status codes.
func (s *Server) fail(c fiber.Ctx, err error) error {
	var se *recurrence.ScheduleError
	switch {
	case errors.As(err, &se):
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: err.Error(), Field: se.Field})
	case errors.Is(err, service.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(errorBody{Error: "not found"})
	case errors.Is(err, transport.ErrNotReady):
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorBody{Error: "transport not ready"})
	case errors.Is(err, media.ErrTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(errorBody{Error: err.Error(), Field: "media"})
	case errors.Is(err, media.ErrTypeNotAllowed):
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(errorBody{Error: err.Error(), Field: "media"})
	}
	return err
}
