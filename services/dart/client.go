package dart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	openDartBase      = "https://opendart.fss.or.kr/api"
	disclosureViewURL = "https://dart.fss.or.kr/dsaf001/main.do?rcpNo="
	listPageSize      = 100
)

// DisclosureRow is one filing as returned by the vendor. RceptNo is the
// globally unique receipt number every dedup decision keys on.
type DisclosureRow struct {
	CorpCode  string
	CorpName  string
	StockCode string
	ReportNm  string
	RceptNo   string
	FlrNm     string
	RceptDt   string // yyyyMMdd
	CorpCls   string
}

// Client is the opaque DART feed the disclosure collector consumes.
type Client interface {
	// ListByStock returns filings for one security over a date range.
	ListByStock(ctx context.Context, ticker string, start, end time.Time) ([]DisclosureRow, error)

	// ListByDate returns every filer's disclosures on one day.
	ListByDate(ctx context.Context, day time.Time) ([]DisclosureRow, error)
}

// NoopClient satisfies Client without a configured API key. Every call
// returns no filings, so the rest of the system degrades to stored data.
type NoopClient struct{}

func (NoopClient) ListByStock(context.Context, string, time.Time, time.Time) ([]DisclosureRow, error) {
	return nil, nil
}

func (NoopClient) ListByDate(context.Context, time.Time) ([]DisclosureRow, error) {
	return nil, nil
}

// OpenDartClient calls the OpenDART list API.
type OpenDartClient struct {
	http   *resty.Client
	apiKey string
}

// NewOpenDartClient creates a DART client. A missing API key is a
// configuration error, rejected at construction.
func NewOpenDartClient(apiKey string) (*OpenDartClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("dart: DART_API_KEY is not set")
	}
	client := resty.New().
		SetBaseURL(openDartBase).
		SetTimeout(10 * time.Second)
	return &OpenDartClient{http: client, apiKey: apiKey}, nil
}

type openDartListResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	List    []struct {
		CorpCode  string `json:"corp_code"`
		CorpName  string `json:"corp_name"`
		StockCode string `json:"stock_code"`
		ReportNm  string `json:"report_nm"`
		RceptNo   string `json:"rcept_no"`
		FlrNm     string `json:"flr_nm"`
		RceptDt   string `json:"rcept_dt"`
		CorpCls   string `json:"corp_cls"`
	} `json:"list"`
	TotalPage int `json:"total_page"`
}

func (c *OpenDartClient) ListByStock(ctx context.Context, ticker string, start, end time.Time) ([]DisclosureRow, error) {
	return c.list(ctx, map[string]string{
		"corp_code": ticker,
		"bgn_de":    start.Format("20060102"),
		"end_de":    end.Format("20060102"),
	})
}

func (c *OpenDartClient) ListByDate(ctx context.Context, day time.Time) ([]DisclosureRow, error) {
	date := day.Format("20060102")
	return c.list(ctx, map[string]string{
		"bgn_de": date,
		"end_de": date,
	})
}

func (c *OpenDartClient) list(ctx context.Context, params map[string]string) ([]DisclosureRow, error) {
	var rows []DisclosureRow

	for page := 1; ; page++ {
		var body openDartListResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetQueryParams(map[string]string{
				"crtfc_key":  c.apiKey,
				"page_no":    fmt.Sprintf("%d", page),
				"page_count": fmt.Sprintf("%d", listPageSize),
			}).
			SetResult(&body).
			Get("/list.json")
		if err != nil {
			return nil, fmt.Errorf("dart list request: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("dart list request: status %s", resp.Status())
		}
		// "013" means no matching filings, which is an empty result.
		if body.Status == "013" {
			break
		}
		if body.Status != "000" {
			return nil, fmt.Errorf("dart list request: %s (%s)", body.Message, body.Status)
		}

		for _, item := range body.List {
			rows = append(rows, DisclosureRow{
				CorpCode:  item.CorpCode,
				CorpName:  item.CorpName,
				StockCode: item.StockCode,
				ReportNm:  item.ReportNm,
				RceptNo:   item.RceptNo,
				FlrNm:     item.FlrNm,
				RceptDt:   item.RceptDt,
				CorpCls:   item.CorpCls,
			})
		}

		if page >= body.TotalPage {
			break
		}
	}

	return rows, nil
}
