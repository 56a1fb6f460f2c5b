package wire

// JSON bodies for the request/response API. Field names follow the backend
// exactly; everything optional is omitempty so requests stay minimal.

type GameStateRequest struct {
	TeamID      string `json:"team_id"`
	RoundNumber int    `json:"round_number"`
}

type GameStateResponse struct {
	TeamName      string `json:"team_name,omitempty"`
	CurrentScore  int    `json:"current_score"`
	CurrentPage   int    `json:"current_page"`
	TimeRemaining int    `json:"time_remaining"`
	Error         string `json:"error,omitempty"`
}

type ValidatePageRequest struct {
	TeamID      string   `json:"team_id"`
	Token       string   `json:"token"`
	RoundNumber int      `json:"round_number"`
	PageNumber  int      `json:"page_number"`
	BugsFixed   []string `json:"bugs_fixed"`
}

type ValidatePageResponse struct {
	Success        bool   `json:"success,omitempty"`
	CurrentScore   int    `json:"current_score,omitempty"`
	NextPageURL    string `json:"next_page_url,omitempty"`
	PagesCompleted int    `json:"pages_completed,omitempty"`
	TotalPages     int    `json:"total_pages,omitempty"`
	RoundCompleted bool   `json:"round_completed,omitempty"`
	FinalScore     int    `json:"final_score,omitempty"`
	Message        string `json:"message,omitempty"`

	Error             string `json:"error,omitempty"`
	RedirectDashboard bool   `json:"redirect_dashboard,omitempty"`
}
