package httpgin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/railgo/internal/domain"
)

func TestFilterAvailability_NarrowsToRequestedSeats(t *testing.T) {
	journeyID := uuid.New()
	seats := make([]uuid.UUID, 5)
	for i := range seats {
		seats[i] = uuid.New()
	}

	full := domain.Availability{
		JourneyID: journeyID,
		Available: seats[:2],
		Locked:    seats[2:3],
		Booked:    seats[3:],
	}

	subset, err := parseSeatFilter(seats[1].String() + ", " + seats[3].String())
	require.NoError(t, err)

	got := filterAvailability(full, subset)

	assert.Equal(t, journeyID, got.JourneyID)
	assert.Equal(t, []uuid.UUID{seats[1]}, got.Available)
	assert.Empty(t, got.Locked)
	assert.Equal(t, []uuid.UUID{seats[3]}, got.Booked)
}

func TestParseSeatFilter_RejectsMalformedID(t *testing.T) {
	_, err := parseSeatFilter(uuid.NewString() + ",not-a-uuid")
	assert.Error(t, err)
}

func TestWriteJSONWithCache_NotModifiedOnMatchingTag(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeJSONWithCache(c, http.StatusOK, map[string]int{"free": 3}, "public, max-age=15", true)

	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=15", w.Header().Get("Cache-Control"))

	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	c2.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c2.Request.Header.Set("If-None-Match", tag)

	writeJSONWithCache(c2, http.StatusOK, map[string]int{"free": 3}, "public, max-age=15", true)

	// The status is recorded on the gin writer; no body is produced.
	assert.Equal(t, http.StatusNotModified, c2.Writer.Status())
	assert.Empty(t, w2.Body.Bytes())
}
