package feed

import "encoding/json"

// RawScheduleRecord is one event of the weekly feed as delivered by the
// backend. Only the fields the normalizer consumes are typed; the raw cache
// keeps the untouched payload.
type RawScheduleRecord struct {
	AccountWeeknum string `json:"accountWeeknum"`
	AccountJtNo    string `json:"accountJtNo"`
	BuildName      string `json:"buildName"`
	RoomRoomnum    string `json:"roomRoomnum"`
	SubjectSName   string `json:"subjectSName"`
}

// WeeklyResponse is the parsed weekly-schedule envelope. Expires is not sent
// by the backend; the client injects it before caching.
type WeeklyResponse struct {
	Code    int                 `json:"code"`
	Success bool                `json:"success"`
	Data    []RawScheduleRecord `json:"data"`
	Msg     string              `json:"msg,omitempty"`
	Date    string              `json:"date,omitempty"`
	Expires string              `json:"expires,omitempty"`
}

// WaterListEnvelope is the water-list (check-in records) envelope. Data
// stays raw because its shape varies by use site; callers decode what they
// need.
type WaterListEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`

	// Raw is the undecoded response body, also cached on disk.
	Raw []byte `json:"-"`
}

// WaterRecord is one check-in record inside the water list.
type WaterRecord struct {
	Eqno      string `json:"eqno"`
	Intime    string `json:"intime,omitempty"`
	Watertime string `json:"watertime,omitempty"`
}

// WaterListData is the typed view of WaterListEnvelope.Data used by the
// matcher.
type WaterListData struct {
	List  []WaterRecord `json:"list"`
	Total int           `json:"total,omitempty"`
}
