package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/platform/textutil"
)

const smsMaxLength = 320

// ImageResolver turns stored item image references into URLs a mail client can load.
type ImageResolver interface {
	ImageURL(ctx context.Context, ref string) (string, error)
}

// Shop is the storefront identity shown in messages.
type Shop struct {
	Name        string
	Phone       string
	Email       string
	FrontendURL string
}

type renderer struct {
	shop    Shop
	printer *message.Printer
	policy  *bluemonday.Policy
	images  ImageResolver
	onImage func(ctx context.Context, ref string, err error)
}

func newRenderer(shop Shop, images ImageResolver, onImage func(context.Context, string, error)) *renderer {
	return &renderer{
		shop:    shop,
		printer: message.NewPrinter(language.French),
		policy:  newEmailPolicy(),
		images:  images,
		onImage: onImage,
	}
}

func newEmailPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("width", "height").OnElements("img")
	policy.AllowAttrs("align").OnElements("td", "th", "div", "p")
	return policy
}

// formatAmount renders an amount in French grouping with the local currency label, e.g. "100 000 FCFA".
func (r *renderer) formatAmount(amount int64, code string) string {
	return r.printer.Sprintf("%d", amount) + " " + currencyLabel(code)
}

func currencyLabel(code string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil || unit.String() == "XOF" {
		return "FCFA"
	}
	return unit.String()
}

type emailLine struct {
	Name      string
	ImageURL  string
	Quantity  int
	UnitPrice string
	Total     string
}

type emailView struct {
	Shop          Shop
	OrderID       string
	Customer      domain.Customer
	Lines         []emailLine
	Total         string
	PaymentMethod string
	Status        string
}

var orderConfirmationTemplate = template.Must(template.New("order_confirmation").Parse(`<div>
<h1>Merci pour votre commande !</h1>
<p>Votre commande #{{.OrderID}} a été reçue avec succès.</p>
<h2>Résumé de la commande</h2>
<table>
<thead><tr><th>Produit</th><th>Nom</th><th>Quantité</th><th>Prix unitaire</th><th>Total</th></tr></thead>
<tbody>
{{- range .Lines}}
<tr><td>{{if .ImageURL}}<img src="{{.ImageURL}}" alt="{{.Name}}" width="80">{{end}}</td><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Total}}</td></tr>
{{- end}}
</tbody>
</table>
<p align="right"><strong>Total : {{.Total}}</strong></p>
<h2>Informations de livraison</h2>
<p><strong>Nom :</strong> {{.Customer.Name}}</p>
<p><strong>Téléphone :</strong> {{.Customer.Phone}}</p>
<p><strong>Adresse :</strong> {{.Customer.Address}}, {{.Customer.City}}</p>
<p><strong>Mode de paiement :</strong> {{.PaymentMethod}}</p>
<p><strong>Statut :</strong> {{.Status}}</p>
{{- if .Shop.Phone}}
<p>Pour toute question, contactez-nous au {{.Shop.Phone}}.</p>
{{- end}}
<p>© {{.Shop.Name}}. Tous droits réservés.</p>
</div>`))

var paymentConfirmationTemplate = template.Must(template.New("payment_confirmation").Parse(`<div>
<h1>Paiement confirmé !</h1>
<p>Votre paiement pour la commande #{{.OrderID}} a été validé.</p>
<p>Bonjour {{.Customer.Name}},</p>
<p>Nous avons bien reçu votre paiement de <strong>{{.Total}}</strong>.</p>
<p>Votre commande est maintenant en cours de préparation.</p>
<p>Vous recevrez une notification dès que votre colis sera expédié.</p>
<p>Merci de votre confiance,</p>
<p><strong>L'équipe {{.Shop.Name}}</strong></p>
</div>`))

func (r *renderer) orderConfirmationEmail(ctx context.Context, order domain.Order) (EmailMessage, error) {
	view := r.view(ctx, order)
	body, err := r.render(orderConfirmationTemplate, view)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{
		To:      order.Customer.Email,
		Subject: fmt.Sprintf("Confirmation de commande #%s", order.ID),
		HTML:    body,
	}, nil
}

func (r *renderer) paymentConfirmationEmail(ctx context.Context, order domain.Order) (EmailMessage, error) {
	view := r.view(ctx, order)
	body, err := r.render(paymentConfirmationTemplate, view)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{
		To:      order.Customer.Email,
		Subject: fmt.Sprintf("Paiement confirmé - Commande #%s", order.ID),
		HTML:    body,
	}, nil
}

func (r *renderer) orderConfirmationSMS(order domain.Order) string {
	msg := fmt.Sprintf("Merci pour votre commande %s #%s. Nous traitons votre demande.", r.shop.Name, order.ID)
	if r.shop.FrontendURL != "" {
		msg += fmt.Sprintf(" Suivez votre commande: %s/order-confirmation?id=%s", r.shop.FrontendURL, order.ID)
	}
	return textutil.Truncate(msg, smsMaxLength)
}

func (r *renderer) paymentConfirmationSMS(order domain.Order) string {
	msg := fmt.Sprintf("Votre paiement %s #%s de %s est confirmé. Votre commande est en préparation.",
		r.shop.Name, order.ID, r.formatAmount(order.TotalAmount, order.Currency))
	return textutil.Truncate(msg, smsMaxLength)
}

func (r *renderer) view(ctx context.Context, order domain.Order) emailView {
	lines := make([]emailLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, emailLine{
			Name:      item.Name,
			ImageURL:  r.imageURL(ctx, item.ImageRef),
			Quantity:  item.Quantity,
			UnitPrice: r.formatAmount(item.UnitPrice, order.Currency),
			Total:     r.formatAmount(item.LineTotal(), order.Currency),
		})
	}
	return emailView{
		Shop:          r.shop,
		OrderID:       order.ID,
		Customer:      order.Customer,
		Lines:         lines,
		Total:         r.formatAmount(order.TotalAmount, order.Currency),
		PaymentMethod: paymentMethodLabel(order.PaymentMethod),
		Status:        statusLabel(order.Status),
	}
}

func (r *renderer) imageURL(ctx context.Context, ref string) string {
	if r.images == nil || strings.TrimSpace(ref) == "" {
		return ""
	}
	url, err := r.images.ImageURL(ctx, ref)
	if err != nil {
		if r.onImage != nil {
			r.onImage(ctx, ref, err)
		}
		return ""
	}
	return url
}

func (r *renderer) render(tmpl *template.Template, view emailView) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

func paymentMethodLabel(method domain.PaymentMethod) string {
	if method == domain.PaymentMethodCashOnDelivery {
		return "Paiement à la livraison"
	}
	return "Paiement en ligne"
}

func statusLabel(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusPending:
		return "En attente de traitement"
	case domain.OrderStatusAwaitingPayment:
		return "En attente de paiement"
	case domain.OrderStatusPaid:
		return "Payée"
	default:
		return string(status)
	}
}
