package domain

type MailMessage struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Data any    `json:"data"`
}

type ShiftAutoClosedMailData struct {
	FullName   string `json:"fullName"`
	LocationID int64  `json:"locationID"`
	ClosedAt   string `json:"closedAt"`
	Chained    bool   `json:"chained"`
}

type CancellationRecordedMailData struct {
	FullName         string `json:"fullName"`
	Target           string `json:"target"`
	HoursBeforeStart string `json:"hoursBeforeStart"`
	PendingReview    bool   `json:"pendingReview"`
}

type CancellationModeratedMailData struct {
	FullName   string `json:"fullName"`
	Target     string `json:"target"`
	Approved   bool   `json:"approved"`
	FineAmount string `json:"fineAmount"`
}
