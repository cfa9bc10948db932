package data

import "time"

// ClientKind selects the download-client protocol family.
type ClientKind string

const (
	ClientQBittorrent  ClientKind = "qbittorrent"
	ClientTransmission ClientKind = "transmission"
	ClientAria2        ClientKind = "aria2"
	ClientMemory       ClientKind = "memory"
)

// Client is a configured download client.
type Client struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Kind      ClientKind `json:"kind"`
	Host      string     `json:"host"`
	Port      int        `json:"port"`
	Username  string     `json:"username,omitempty"`
	Password  string     `json:"-"`
	UseSSL    bool       `json:"useSsl"`
	IsDefault bool       `json:"isDefault"`

	// DownloadDir confines file deletion for clients that cannot remove
	// payload data themselves.
	DownloadDir string    `json:"downloadDir,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Account is a tracker account.
type Account struct {
	ID          int64      `json:"id"`
	SiteName    string     `json:"siteName"`
	SiteURL     string     `json:"siteUrl"`
	Username    string     `json:"username"`
	Cookie      string     `json:"-"`
	Passkey     string     `json:"-"`
	UID         string     `json:"uid,omitempty"`
	Uploaded    int64      `json:"uploaded"`
	Downloaded  int64      `json:"downloaded"`
	Ratio       float64    `json:"ratio"`
	Bonus       float64    `json:"bonus"`
	UserClass   string     `json:"userClass,omitempty"`
	Active      bool       `json:"active"`
	LastRefresh *time.Time `json:"lastRefresh,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Clone returns a copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.LastRefresh != nil {
		t := *a.LastRefresh
		cp.LastRefresh = &t
	}
	return &cp
}

// HitAndRunStatus mirrors the tracker's H&R listing tabs.
type HitAndRunStatus string

const (
	HRInspecting HitAndRunStatus = "inspecting"
	HRReached    HitAndRunStatus = "reached"
	HRUnreached  HitAndRunStatus = "unreached"
	HRPardoned   HitAndRunStatus = "pardoned"
)

// HitAndRunStatuses lists every tab in tracker order.
var HitAndRunStatuses = []HitAndRunStatus{HRInspecting, HRReached, HRUnreached, HRPardoned}

// HitAndRun is a tracker-side participation obligation.
type HitAndRun struct {
	ID               int64           `json:"id"`
	HRID             int64           `json:"hrId"`
	AccountID        int64           `json:"accountId"`
	TorrentID        string          `json:"torrentId"`
	TorrentName      string          `json:"torrentName"`
	Uploaded         int64           `json:"uploaded"`
	Downloaded       int64           `json:"downloaded"`
	ShareRatio       string          `json:"shareRatio"`
	SeedTimeRequired string          `json:"seedTimeRequired"`
	CompletedAt      string          `json:"completedAt"`
	InspectTimeLeft  string          `json:"inspectTimeLeft"`
	Comment          string          `json:"comment,omitempty"`
	Status           HitAndRunStatus `json:"status"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// StatsSnapshot is a periodic sample of transfer totals and speeds.
type StatsSnapshot struct {
	ID            int64     `json:"id"`
	AccountID     int64     `json:"accountId,omitempty"`
	Uploaded      int64     `json:"uploaded"`
	Downloaded    int64     `json:"downloaded"`
	UploadSpeed   int64     `json:"uploadSpeed"`
	DownloadSpeed int64     `json:"downloadSpeed"`
	CreatedAt     time.Time `json:"createdAt"`
}
