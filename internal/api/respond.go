package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperr "drivehub/internal/errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = int64(65536)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	he := apperr.ToHTTPError(err)
	if he.Code >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", he.Code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", he.Code), zap.Error(err))
	}
	writeJSON(w, he.Code, he)
}

// decode reads a JSON body into dst and validates its struct tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Newf(apperr.KindInvalidInput, "invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.New(apperr.KindInvalidInput, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
