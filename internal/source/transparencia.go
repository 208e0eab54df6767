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

// transparenciaPageSize is fixed by the API.
const transparenciaPageSize = 15

// TransparenciaAdapter talks to the Portal da Transparência licitações API.
// The portal requires a registered API key sent in the chave-api-dados
// header, returns a bare JSON array per page, and never reports totals: the
// last page is detected by a short (or empty) array.
type TransparenciaAdapter struct {
	cfg config.SourceConfig
}

// NewTransparenciaAdapter creates the Portal da Transparência adapter.
func NewTransparenciaAdapter(cfg config.SourceConfig) *TransparenciaAdapter {
	return &TransparenciaAdapter{cfg: cfg}
}

func (a *TransparenciaAdapter) Code() string        { return "transparencia" }
func (a *TransparenciaAdapter) DisplayName() string { return a.cfg.DisplayName }

func (a *TransparenciaAdapter) BuildRequest(ctx context.Context, req model.SearchRequest, page int) (*http.Request, error) {
	if a.cfg.APIKey == "" {
		return nil, eris.New("transparencia: api key not configured")
	}

	q := url.Values{}
	q.Set("dataInicial", req.DateFrom.Format("02/01/2006"))
	q.Set("dataFinal", req.DateTo.Format("02/01/2006"))
	q.Set("pagina", strconv.Itoa(page))

	u := strings.TrimRight(a.cfg.BaseURL, "/") + "/licitacoes?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "transparencia: create request")
	}
	httpReq.Header.Set("chave-api-dados", a.cfg.APIKey)
	return httpReq, nil
}

type transparenciaLicitacao struct {
	ID             int64   `json:"id"`
	Valor          float64 `json:"valor"`
	DataAbertura   string  `json:"dataAbertura"`
	DataPublicacao string  `json:"dataPublicacao"`
	Licitacao      struct {
		Objeto string `json:"objeto"`
		Numero string `json:"numero"`
	} `json:"licitacao"`
	UnidadeGestora struct {
		Nome           string `json:"nome"`
		OrgaoVinculado struct {
			CNPJ string `json:"cnpj"`
			Nome string `json:"nome"`
		} `json:"orgaoVinculado"`
	} `json:"unidadeGestora"`
	Municipio struct {
		NomeIBGE string `json:"nomeIBGE"`
		UF       struct {
			Sigla string `json:"sigla"`
		} `json:"uf"`
	} `json:"municipio"`
}

func (a *TransparenciaAdapter) ParsePage(body []byte, page int) (*Page, error) {
	var items []transparenciaLicitacao
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, eris.Wrap(err, "transparencia: decode page")
	}

	records := make([]model.UnifiedRecord, 0, len(items))
	for _, l := range items {
		agencyName := l.UnidadeGestora.OrgaoVinculado.Nome
		if agencyName == "" {
			agencyName = l.UnidadeGestora.Nome
		}
		rec := model.UnifiedRecord{
			SourceID:             strconv.FormatInt(l.ID, 10),
			SourceName:           a.Code(),
			ObjectDescription:    l.Licitacao.Objeto,
			EstimatedValue:       l.Valor,
			AgencyCNPJ:           l.UnidadeGestora.OrgaoVinculado.CNPJ,
			AgencyName:           agencyName,
			StateCode:            l.Municipio.UF.Sigla,
			Municipality:         l.Municipio.NomeIBGE,
			EditalNumber:         l.Licitacao.Numero,
			Link:                 "https://portaldatransparencia.gov.br/licitacoes/" + strconv.FormatInt(l.ID, 10),
			ExtractionConfidence: 1.0,
		}
		rec.PublicationDate = parseBrazilTime(l.DataPublicacao)
		if t := parseBrazilTime(l.DataAbertura); !t.IsZero() {
			rec.OpeningDate = &t
		}
		if rec.EditalNumber != "" && !rec.PublicationDate.IsZero() {
			rec.FiscalYear = rec.PublicationDate.Year()
		}
		records = append(records, rec)
	}

	return &Page{
		Records: records,
		Number:  page,
		HasMore: len(items) == transparenciaPageSize,
	}, nil
}
