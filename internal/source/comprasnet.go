package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/tjsasakifln/licitasearch/internal/config"
	"github.com/tjsasakifln/licitasearch/internal/model"
)

// comprasnetPageSize is the fixed page size of the Dados Abertos API.
const comprasnetPageSize = 500

// ComprasnetAdapter talks to the Compras.gov.br Dados Abertos API, which
// paginates by offset rather than page number and supports free-text
// filtering on the procurement object.
type ComprasnetAdapter struct {
	cfg config.SourceConfig
}

// NewComprasnetAdapter creates the Compras.gov.br adapter.
func NewComprasnetAdapter(cfg config.SourceConfig) *ComprasnetAdapter {
	return &ComprasnetAdapter{cfg: cfg}
}

func (a *ComprasnetAdapter) Code() string        { return "comprasnet" }
func (a *ComprasnetAdapter) DisplayName() string { return a.cfg.DisplayName }

func (a *ComprasnetAdapter) BuildRequest(ctx context.Context, req model.SearchRequest, page int) (*http.Request, error) {
	q := url.Values{}
	q.Set("data_publicacao_min", req.DateFrom.Format("2006-01-02"))
	q.Set("data_publicacao_max", req.DateTo.Format("2006-01-02"))
	q.Set("offset", strconv.Itoa((page-1)*comprasnetPageSize))
	if len(req.Keywords) > 0 {
		// Server-side narrowing on the first keyword; full relevance is
		// decided by the classification filter.
		q.Set("objeto", req.Keywords[0])
	}
	if len(req.States) == 1 {
		q.Set("uf", strings.ToUpper(req.States[0]))
	}

	u := strings.TrimRight(a.cfg.BaseURL, "/") + "/licitacoes/v1/licitacoes.json?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "comprasnet: create request")
	}
	return httpReq, nil
}

type comprasnetEnvelope struct {
	Embedded struct {
		Licitacoes []comprasnetLicitacao `json:"licitacoes"`
	} `json:"_embedded"`
	Count  int `json:"count"`
	Offset int `json:"offset"`
}

type comprasnetLicitacao struct {
	Identificador        string  `json:"identificador"`
	NumeroAviso          int     `json:"numero_aviso"`
	Objeto               string  `json:"objeto"`
	ValorEstimado        float64 `json:"valor_estimado"`
	DataPublicacao       string  `json:"data_publicacao"`
	DataAberturaProposta string  `json:"data_abertura_proposta"`
	NomeOrgao            string  `json:"nome_orgao"`
	CNPJOrgao            string  `json:"cnpj_orgao"`
	UF                   string  `json:"uf"`
	Municipio            string  `json:"municipio"`
	Links                struct {
		Self struct {
			Href string `json:"href"`
		} `json:"self"`
	} `json:"_links"`
}

func (a *ComprasnetAdapter) ParsePage(body []byte, page int) (*Page, error) {
	var env comprasnetEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "comprasnet: decode page")
	}

	items := env.Embedded.Licitacoes
	records := make([]model.UnifiedRecord, 0, len(items))
	for _, l := range items {
		rec := model.UnifiedRecord{
			SourceID:             l.Identificador,
			SourceName:           a.Code(),
			ObjectDescription:    l.Objeto,
			EstimatedValue:       l.ValorEstimado,
			AgencyCNPJ:           l.CNPJOrgao,
			AgencyName:           l.NomeOrgao,
			StateCode:            l.UF,
			Municipality:         l.Municipio,
			Link:                 absoluteLink(a.cfg.BaseURL, l.Links.Self.Href),
			ExtractionConfidence: 1.0,
		}
		rec.PublicationDate = parseBrazilTime(l.DataPublicacao)
		if t := parseBrazilTime(l.DataAberturaProposta); !t.IsZero() {
			rec.OpeningDate = &t
		}
		if l.NumeroAviso != 0 {
			rec.EditalNumber = strconv.Itoa(l.NumeroAviso)
			rec.FiscalYear = rec.PublicationDate.Year()
		}
		records = append(records, rec)
	}

	consumed := env.Offset + len(items)
	return &Page{
		Records:      records,
		Number:       page,
		TotalRecords: env.Count,
		HasMore:      len(items) == comprasnetPageSize && consumed < env.Count,
	}, nil
}

// absoluteLink resolves the HAL self href, which the API returns relative to
// its own host.
func absoluteLink(base, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(href, "/")
}
