package signals

import (
	"github.com/google/uuid"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

func parseMissionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, apperrors.NewValidationError("malformed mission id: " + raw)
	}
	return id, nil
}
