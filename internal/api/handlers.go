// internal/api/handlers.go
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"sort"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/common/logger"
	"merchant-onboarding/internal/onboarding/service"
	"merchant-onboarding/internal/onboarding/wizard"

	"github.com/gofiber/fiber/v2"
)

type handlers struct {
	svc              Service
	maxDocumentBytes int64
	logger           logger.Logger
}

func (h *handlers) start(c *fiber.Ctx) error {
	var req service.StartRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return apperrors.NewInvalidRequestError(fmt.Sprintf("invalid body: %v", err))
		}
	}

	view, err := h.svc.Start(c.UserContext(), actorFrom(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (h *handlers) get(c *fiber.Ctx) error {
	view, err := h.svc.Get(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (h *handlers) cancel(c *fiber.Ctx) error {
	if err := h.svc.Cancel(c.UserContext(), actorFrom(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) selectCustomerType(c *fiber.Ctx) error {
	var body struct {
		CustomerType string `json:"customerType"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return apperrors.NewInvalidRequestError(fmt.Sprintf("invalid body: %v", err))
	}

	out, err := h.svc.SelectCustomerType(c.UserContext(), actorFrom(c), c.Params("id"), body.CustomerType)
	if err != nil {
		return err
	}
	return c.JSON(out)
}

func (h *handlers) submitStep(c *fiber.Ctx) error {
	in, err := h.parseStepInput(c)
	if err != nil {
		return err
	}

	out, err := h.svc.SubmitStep(c.UserContext(), actorFrom(c), c.Params("id"), c.Params("kind"), in)
	if err != nil {
		return err
	}
	return c.JSON(out)
}

func (h *handlers) back(c *fiber.Ctx) error {
	out, err := h.svc.Back(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(out)
}

func (h *handlers) submit(c *fiber.Ctx) error {
	out, err := h.svc.Submit(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(out)
}

func (h *handlers) listFranchises(c *fiber.Ctx) error {
	options, err := h.svc.ListFranchises(c.UserContext(), c.Query("q"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": options})
}

// parseStepInput reads a step body: a JSON object of fields, or a multipart
// form whose file parts become documents.
func (h *handlers) parseStepInput(c *fiber.Ctx) (wizard.Input, error) {
	in := wizard.Input{Fields: map[string]interface{}{}}

	if c.Is("json") || len(c.Body()) == 0 {
		if len(bytes.TrimSpace(c.Body())) == 0 {
			return in, nil
		}
		if err := json.Unmarshal(c.Body(), &in.Fields); err != nil {
			return in, apperrors.NewInvalidRequestError(fmt.Sprintf("invalid body: %v", err))
		}
		return in, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return in, apperrors.NewInvalidRequestError(fmt.Sprintf("expected JSON or multipart form: %v", err))
	}

	for name, values := range form.Value {
		if len(values) > 0 {
			in.Fields[name] = values[0]
		}
	}

	names := make([]string, 0, len(form.File))
	for name := range form.File {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		files := form.File[name]
		if len(files) == 0 {
			continue
		}
		doc, err := h.readDocument(name, files[0])
		if err != nil {
			return in, err
		}
		in.Documents = append(in.Documents, doc)
	}
	return in, nil
}

// readDocument loads one uploaded file. Oversized files are not read; the
// step validator rejects them by size.
func (h *handlers) readDocument(field string, fh *multipart.FileHeader) (wizard.DocumentRef, error) {
	doc := wizard.DocumentRef{
		Field:       field,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
	}
	if h.maxDocumentBytes > 0 && fh.Size > h.maxDocumentBytes {
		return doc, nil
	}

	f, err := fh.Open()
	if err != nil {
		return doc, apperrors.NewInvalidRequestError(fmt.Sprintf("read %s: %v", field, err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return doc, apperrors.NewInvalidRequestError(fmt.Sprintf("read %s: %v", field, err))
	}
	doc.Data = data
	doc.Size = int64(len(data))
	return doc, nil
}
