package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"rideguard/internal/models"
	"rideguard/internal/services"
	"rideguard/internal/utils"
	"rideguard/internal/validators"
	"rideguard/pkg/storage"
	"rideguard/pkg/websocket"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SOSHandler struct {
	responseService services.ResponseService
	dispatchService services.DispatchCoordinator
	timelineService services.TimelineService
	wsHandler       *websocket.Handler
	storage         storage.StorageProvider
}

func NewSOSHandler(
	responseService services.ResponseService,
	dispatchService services.DispatchCoordinator,
	timelineService services.TimelineService,
	wsHandler *websocket.Handler,
	storageProvider storage.StorageProvider,
) *SOSHandler {
	return &SOSHandler{
		responseService: responseService,
		dispatchService: dispatchService,
		timelineService: timelineService,
		wsHandler:       wsHandler,
		storage:         storageProvider,
	}
}

// TriggerSOS creates an incident/response pair and starts dispatching.
// Replays with the same client idempotency key return the existing pair.
func (h *SOSHandler) TriggerSOS(c *gin.Context) {
	var request models.TriggerRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	reporter, ok := reporterFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}
	request.Reporter = reporter

	if errs := validators.ValidateTriggerRequest(&request); len(errs) > 0 {
		utils.BadRequestResponse(c, errs.Error())
		return
	}

	result, err := h.responseService.Trigger(c.Request.Context(), &request)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			utils.BadRequestResponse(c, err.Error())
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "SOS_TRIGGER_FAILED", "Failed to trigger SOS: "+err.Error())
		return
	}

	if result.Duplicate {
		utils.SuccessResponse(c, "SOS already registered", result)
		return
	}
	utils.CreatedResponse(c, "SOS triggered successfully", result)
}

// GetSOS retrieves an incident with its response and derived elapsed time.
func (h *SOSHandler) GetSOS(c *gin.Context) {
	incidentID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid incident ID")
		return
	}

	incident, err := h.responseService.GetIncident(c.Request.Context(), incidentID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			utils.NotFoundResponse(c, "Incident")
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "SOS_FETCH_FAILED", "Failed to get incident: "+err.Error())
		return
	}

	response, err := h.responseService.GetResponseByIncident(c.Request.Context(), incidentID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "SOS_FETCH_FAILED", "Failed to get response: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Incident retrieved successfully", gin.H{
		"incident":        incident,
		"response":        response,
		"elapsed_seconds": incident.ElapsedTime(time.Now()).Seconds(),
	})
}

// GetResponse retrieves a response record by its own id.
func (h *SOSHandler) GetResponse(c *gin.Context) {
	responseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid response ID")
		return
	}

	response, err := h.responseService.GetResponse(c.Request.Context(), responseID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			utils.NotFoundResponse(c, "Response")
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "RESPONSE_FETCH_FAILED", "Failed to get response: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Response retrieved successfully", response)
}

// ListSOS lists responses filtered by status or region.
func (h *SOSHandler) ListSOS(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	var responses []*models.Response
	var total int64
	var err error

	if region := c.Query("region"); region != "" {
		responses, total, err = h.responseService.ListByRegion(c.Request.Context(), region, params)
	} else {
		status := models.ResponseStatus(c.DefaultQuery("status", string(models.ResponseStatusDispatched)))
		responses, total, err = h.responseService.ListByStatus(c.Request.Context(), status, params)
	}
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "SOS_LIST_FAILED", "Failed to list responses: "+err.Error())
		return
	}

	meta := &utils.Meta{
		Pagination: utils.CreatePaginationMeta(params, total),
	}
	utils.SuccessResponseWithMeta(c, "Responses retrieved successfully", gin.H{
		"responses": responses,
	}, meta)
}

// ActOnResponse applies an operator action to the response lifecycle.
func (h *SOSHandler) ActOnResponse(c *gin.Context) {
	responseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid response ID")
		return
	}

	var request models.ActionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if errs := validators.ValidateStruct(&request); len(errs) > 0 {
		utils.BadRequestResponse(c, errs.Error())
		return
	}

	source := actionSource(c)
	ctx := c.Request.Context()

	var response *models.Response
	switch request.Action {
	case models.ActionAcknowledge:
		response, err = h.responseService.Acknowledge(ctx, responseID, source, request.Message, request.Responder)
	case models.ActionArrived:
		response, err = h.responseService.Arrive(ctx, responseID, source)
	case models.ActionComplete:
		response, err = h.responseService.Complete(ctx, responseID, request.Outcome, source)
	case models.ActionEscalate:
		response, err = h.responseService.Escalate(ctx, responseID, request.Reason, source)
	case models.ActionCancel:
		response, err = h.responseService.Cancel(ctx, responseID, request.Reason, source)
	case models.ActionAssignCoordinator:
		coordinatorID := request.CoordinatorID
		if coordinatorID == nil {
			if userID, ok := userIDFromContext(c); ok {
				coordinatorID = &userID
			}
		}
		if coordinatorID == nil {
			utils.BadRequestResponse(c, "coordinator_id required")
			return
		}
		response, err = h.responseService.AssignCoordinator(ctx, responseID, *coordinatorID)
	case models.ActionAddLog:
		if request.Message == "" {
			utils.BadRequestResponse(c, "message required")
			return
		}
		response, err = h.responseService.AddLogEntry(ctx, responseID, source, request.Message, request.Data)
	case models.ActionUpdateStatus:
		if request.Status != models.ResponseStatusResponding {
			utils.BadRequestResponse(c, "only the responding status may be set directly")
			return
		}
		response, err = h.responseService.MarkResponding(ctx, responseID, source)
	default:
		utils.BadRequestResponse(c, "Unknown action: "+request.Action)
		return
	}

	if err != nil {
		writeLifecycleError(c, err)
		return
	}
	utils.SuccessResponse(c, "Action applied successfully", response)
}

// ServiceCallback is the inbound webhook for external emergency services
// reporting dispatch progress.
func (h *SOSHandler) ServiceCallback(c *gin.Context) {
	var request models.ServiceCallbackRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if errs := validators.ValidateServiceCallback(&request); len(errs) > 0 {
		utils.BadRequestResponse(c, errs.Error())
		return
	}

	response, err := h.dispatchService.HandleServiceCallback(c.Request.Context(), &request)
	if err != nil {
		writeLifecycleError(c, err)
		return
	}
	utils.SuccessResponse(c, "Callback processed successfully", response)
}

// Timeline returns the merged, ordered event history with derived metrics.
func (h *SOSHandler) Timeline(c *gin.Context) {
	responseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid response ID")
		return
	}

	timeline, err := h.timelineService.GetTimeline(c.Request.Context(), responseID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			utils.NotFoundResponse(c, "Response")
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "TIMELINE_FAILED", "Failed to build timeline: "+err.Error())
		return
	}
	utils.SuccessResponse(c, "Timeline retrieved successfully", timeline)
}

// PollUpdates drains the caller's durable event queue. Fallback path for
// sessions without a live push connection.
func (h *SOSHandler) PollUpdates(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}

	events := h.wsHandler.Pending(c.Request.Context(), userID.Hex())
	utils.SuccessResponse(c, "Pending events retrieved successfully", gin.H{
		"events": events,
		"count":  len(events),
	})
}

// UploadAttachment stores an evidence file against the response.
func (h *SOSHandler) UploadAttachment(c *gin.Context) {
	responseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid response ID")
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}
	if h.storage == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Attachment storage is not configured")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		utils.BadRequestResponse(c, "file is required")
		return
	}
	kind := c.DefaultPostForm("kind", "photo")

	file, err := fileHeader.Open()
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "ATTACHMENT_UPLOAD_FAILED", "Failed to read upload: "+err.Error())
		return
	}
	defer file.Close()

	key := fmt.Sprintf("sos/%s/%d_%s", responseID.Hex(), time.Now().UnixNano(), fileHeader.Filename)
	uploaded, err := h.storage.Upload(c.Request.Context(), &storage.UploadRequest{
		Key:         key,
		Reader:      file,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
	})
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "ATTACHMENT_UPLOAD_FAILED", "Failed to store upload: "+err.Error())
		return
	}

	response, err := h.responseService.AddAttachment(c.Request.Context(), responseID, models.Attachment{
		Kind:        kind,
		StorageKey:  uploaded.Key,
		URL:         uploaded.URL,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		UploadedBy:  userID,
	})
	if err != nil {
		writeLifecycleError(c, err)
		return
	}
	utils.SuccessResponse(c, "Attachment uploaded successfully", response)
}

// GetAttachmentLink returns a short-lived access link for one evidence file.
func (h *SOSHandler) GetAttachmentLink(c *gin.Context) {
	responseID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid response ID")
		return
	}
	if h.storage == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Attachment storage is not configured")
		return
	}

	response, err := h.responseService.GetResponse(c.Request.Context(), responseID)
	if err != nil {
		writeLifecycleError(c, err)
		return
	}

	attachmentID := c.Param("attachment_id")
	var attachment *models.Attachment
	for i := range response.Attachments {
		if response.Attachments[i].ID == attachmentID {
			attachment = &response.Attachments[i]
			break
		}
	}
	if attachment == nil {
		utils.NotFoundResponse(c, "Attachment")
		return
	}

	const linkTTL = 15 * time.Minute
	url, err := h.storage.GetURL(c.Request.Context(), attachment.StorageKey, linkTTL)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "ATTACHMENT_LINK_FAILED", "Failed to generate link: "+err.Error())
		return
	}
	utils.SuccessResponse(c, "Attachment link generated successfully", gin.H{
		"url":                url,
		"expires_in_seconds": int(linkTTL.Seconds()),
	})
}

func writeLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		utils.NotFoundResponse(c, "Response")
	case errors.Is(err, services.ErrAlreadyTerminal):
		utils.ConflictResponse(c, "Response is already in a terminal state")
	case errors.Is(err, services.ErrInvalidTransition):
		utils.ConflictResponse(c, err.Error())
	case errors.Is(err, services.ErrInvalidInput):
		utils.BadRequestResponse(c, err.Error())
	default:
		utils.ErrorResponse(c, http.StatusInternalServerError, "SOS_ACTION_FAILED", err.Error())
	}
}

func userIDFromContext(c *gin.Context) (primitive.ObjectID, bool) {
	value, exists := c.Get("user_id")
	if !exists {
		return primitive.NilObjectID, false
	}
	userID, ok := value.(primitive.ObjectID)
	return userID, ok
}

func reporterFromContext(c *gin.Context) (models.Reporter, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return models.Reporter{}, false
	}
	return models.Reporter{
		UserID: userID,
		Role:   c.GetString("user_type"),
		Name:   c.GetString("user_name"),
		Phone:  c.GetString("user_phone"),
	}, true
}

func actionSource(c *gin.Context) string {
	if userID, ok := userIDFromContext(c); ok {
		return "operator:" + userID.Hex()
	}
	return "operator"
}
