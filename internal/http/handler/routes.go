package handler

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"imgapi/internal/model"
	"imgapi/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Keep handlers minimal and free of business logic; everything of substance
// lives in the service layer.
func RegisterRoutes(app *fiber.App, db *sql.DB, assetSvc service.AssetService) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	app.Post("/projects/:projectId/images", UploadImages(assetSvc))
	app.Get("/projects/:projectId/images", ListImages(assetSvc))
	app.Get("/images/:id", GetImage(assetSvc))
	app.Patch("/images/:id", PatchImage(assetSvc))
	app.Delete("/images/:id", DeleteImage(assetSvc))
}

// HealthCheck verifies DB connectivity.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a simple liveness endpoint.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// UploadImages ingests a multipart batch (field name: files, repeatable) into
// the project. Duplicates are skipped, so the returned id list may be shorter
// than the number of uploaded files.
func UploadImages(svc service.AssetService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		projectID, err := strconv.ParseInt(c.Params("projectId"), 10, 64)
		if err != nil || projectID <= 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PROJECT_ID", "invalid project id")
		}

		form, err := c.MultipartForm()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILES_REQUIRED", "multipart field 'files' is required")
		}
		headers := form.File["files"]

		files := make([]service.UploadFile, 0, len(headers))
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
			}
			defer f.Close()

			files = append(files, service.UploadFile{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Reader:      f,
			})
		}

		ids, err := svc.Upload(c.UserContext(), projectID, files)
		if err != nil {
			if errors.Is(err, service.ErrEmptyBatch) {
				return writeError(c, fiber.StatusBadRequest, "EMPTY_BATCH", "no files supplied")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ids": ids})
	}
}

// ListImages serves both pagination modes over the same filter predicate,
// selected by the mode query parameter (offset by default, or cursor).
func ListImages(svc service.AssetService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		projectID, err := strconv.ParseInt(c.Params("projectId"), 10, 64)
		if err != nil || projectID <= 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PROJECT_ID", "invalid project id")
		}

		var status *model.AssetStatus
		if s := c.Query("status"); s != "" {
			st := model.AssetStatus(s)
			if !st.Valid() {
				return writeError(c, fiber.StatusBadRequest, "INVALID_STATUS", "invalid status filter")
			}
			status = &st
		}
		tags := c.Query("tags")

		size, err := strconv.Atoi(c.Query("size", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_SIZE", "invalid size")
		}

		switch c.Query("mode", "offset") {
		case "offset":
			page, err := strconv.Atoi(c.Query("page", "0"))
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_PAGE", "invalid page")
			}
			res, err := svc.ListOffset(c.UserContext(), projectID, status, tags, page, size)
			if err != nil {
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
			return c.JSON(res)
		case "cursor":
			var cursor *int64
			if cs := c.Query("cursor"); cs != "" {
				cv, err := strconv.ParseInt(cs, 10, 64)
				if err != nil {
					return writeError(c, fiber.StatusBadRequest, "INVALID_CURSOR", "invalid cursor")
				}
				cursor = &cv
			}
			res, err := svc.ListCursor(c.UserContext(), projectID, status, tags, cursor, size)
			if err != nil {
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
			return c.JSON(res)
		default:
			return writeError(c, fiber.StatusBadRequest, "INVALID_MODE", "mode must be offset or cursor")
		}
	}
}

// GetImage returns full asset detail with presigned original/thumbnail URLs.
func GetImage(svc service.AssetService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil || id <= 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		expirySec, err := strconv.Atoi(c.Query("expiry", "0"))
		if err != nil || expirySec < 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_EXPIRY", "invalid expiry")
		}

		detail, err := svc.Get(c.UserContext(), id, time.Duration(expirySec)*time.Second)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "image not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(detail)
	}
}

// patchBody is the wire shape of a metadata patch. Absent fields are left
// untouched.
type patchBody struct {
	Tags            *string `json:"tags"`
	Memo            *string `json:"memo"`
	Status          *string `json:"status"`
	ExpectedVersion *int64  `json:"expected_version"`
}

// PatchImage applies a partial, optimistically-versioned metadata update.
func PatchImage(svc service.AssetService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil || id <= 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		var body patchBody
		if err := c.BodyParser(&body); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}

		req := service.PatchRequest{
			Tags:            body.Tags,
			Memo:            body.Memo,
			ExpectedVersion: body.ExpectedVersion,
		}
		if body.Status != nil {
			st := model.AssetStatus(*body.Status)
			req.Status = &st
		}

		if err := svc.Patch(c.UserContext(), id, req); err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "image not found")
			case errors.Is(err, service.ErrVersionConflict):
				return writeError(c, fiber.StatusConflict, "VERSION_CONFLICT", "stale version")
			case errors.Is(err, service.ErrTagsTooLong),
				errors.Is(err, service.ErrMemoTooLong),
				errors.Is(err, service.ErrInvalidStatus):
				return writeError(c, fiber.StatusBadRequest, "INVALID_PATCH", err.Error())
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// DeleteImage soft-deletes the asset. A repeat delete returns 404.
func DeleteImage(svc service.AssetService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil || id <= 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		if err := svc.SoftDelete(c.UserContext(), id); err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "image not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
