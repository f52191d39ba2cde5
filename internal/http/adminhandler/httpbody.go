package adminhandler

type BroadcastBody struct {
	Message string `json:"message" binding:"required,max=1024" example:"maintenance in 5 minutes"`
}

type StatsResponse struct {
	Connections    int    `json:"connections"`
	Groups         int    `json:"groups"`
	BatchChannels  int    `json:"batch_channels"`
	PresenceOnline *int64 `json:"presence_online,omitempty"`
}

type GroupResponse struct {
	Group   string   `json:"group"`
	Members []string `json:"members"`
	Live    int      `json:"live"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
