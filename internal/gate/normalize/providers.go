package normalize

// Provider names as recorded on entitlement records and metric labels.
const (
	ProviderEduzz        = "eduzz"
	ProviderLemonSqueezy = "lemonsqueezy"
	ProviderStripe       = "stripe"
)

var eduzzRevokeStatuses = []string{
	"4", "7", // cancelada, reembolsada
	"cancelado", "canceled", "cancelled", "refunded", "reembolsado", "chargeback",
}

func eduzzFields() Fields {
	return Fields{
		Token: []string{
			"edz_fat_cod", "trans_cod", "edz_fat_id", "fatura_id", "transaction",
			"invoice_id", "transactionkey", "chave", "id",
		},
		Email:        []string{"edz_cli_email", "cus_email", "email", "email_comprador", "edz_cli_email2"},
		Name:         []string{"edz_cli_name", "cus_name", "nome_comprador", "nome", "name"},
		Status:       []string{"edz_fat_status", "trans_status", "fatura_status", "status"},
		Plan:         []string{"edz_cnt_titulo", "product_name", "plano"},
		OriginSecret: []string{"edz_cli_origin_secret", "origin_secret"},
	}
}

func eduzzMeta() map[string][]string {
	return map[string][]string{
		"product_id":    {"edz_cnt_cod", "produto", "product_id"},
		"customer_code": {"edz_cli_cod", "cus_cod"},
		"transaction":   {"trans_cod", "transaction"},
	}
}

// EduzzWebhook is the server-to-server notification. It carries no default
// kind, so only a paid status or an explicit remove acts.
func EduzzWebhook() *Provider {
	return &Provider{
		Name:           ProviderEduzz,
		Scopes:         []string{"fields", "data"},
		Fields:         eduzzFields(),
		KindKeys:       []string{"type"},
		GrantKinds:     []string{"create"},
		RevokeKinds:    []string{"remove"},
		PaidStatuses:   []string{"3"},
		RevokeStatuses: eduzzRevokeStatuses,
		Meta:           eduzzMeta(),
	}
}

// EduzzDelivery is the custom delivery callback: JSON {type, fields|data} or
// a flat form body. A missing type means create.
func EduzzDelivery() *Provider {
	p := EduzzWebhook()
	p.DefaultKind = "create"
	return p
}

// EduzzThankYou is the thank-you page redirect, usually a GET with the
// transaction key in the query string.
func EduzzThankYou() *Provider {
	p := EduzzWebhook()
	p.DefaultKind = "create"
	p.Scopes = nil
	p.Fields.Token = []string{"transactionkey", "chave", "invoice_id", "edz_fat_cod", "fatura_id", "transaction"}
	p.Fields.Email = []string{"email_comprador", "email", "edz_cli_email", "cus_email"}
	p.Fields.Name = []string{"nome_comprador", "name", "nome", "edz_cli_name"}
	p.Meta = map[string][]string{
		"valor":      {"valor"},
		"moeda":      {"moeda"},
		"product_id": {"produto", "product_id", "edz_cnt_cod"},
		"chave":      {"chave"},
	}
	p.MetaDefaults = map[string]string{"moeda": "BRL"}
	return p
}

// LemonSqueezy maps Lemon Squeezy order and subscription webhooks.
func LemonSqueezy() *Provider {
	return &Provider{
		Name: ProviderLemonSqueezy,
		Fields: Fields{
			Token:     []string{"meta.custom_data.token", "data.attributes.order_id", "data.id"},
			Email:     []string{"data.attributes.user_email", "data.attributes.customer_email", "meta.custom_data.email"},
			Name:      []string{"data.attributes.user_name", "data.attributes.customer_name"},
			Status:    []string{"data.attributes.status"},
			Plan:      []string{"data.attributes.variant_name", "data.attributes.first_order_item.variant_name", "data.attributes.product_name", "data.attributes.first_order_item.product_name"},
			ExpiresAt: []string{"data.attributes.ends_at", "data.attributes.renews_at"},
		},
		KindKeys: []string{"meta.event_name"},
		GrantKinds: []string{
			"order_created", "subscription_created", "subscription_updated",
			"subscription_resumed", "subscription_payment_success",
		},
		RevokeKinds:    []string{"subscription_cancelled", "subscription_expired", "order_refunded"},
		PaidStatuses:   []string{"on_trial"},
		RevokeStatuses: []string{"expired", "refunded"},
		Meta: map[string][]string{
			"customer_id":     {"data.attributes.customer_id"},
			"order_id":        {"data.attributes.order_id", "data.id"},
			"product_id":      {"data.attributes.product_id", "data.attributes.first_order_item.product_id"},
			"variant_id":      {"data.attributes.variant_id", "data.attributes.first_order_item.variant_id"},
			"subscription_id": {"data.attributes.subscription_id"},
		},
		GenerateToken: true,
	}
}

// Stripe maps Stripe checkout, invoice and subscription events. Fields are
// read from data.object.
func Stripe() *Provider {
	return &Provider{
		Name:   ProviderStripe,
		Scopes: []string{"data.object"},
		Fields: Fields{
			Token: []string{
				"metadata.token", "client_reference_id", "subscription",
				"parent.subscription_details.subscription", "id",
			},
			Email:     []string{"customer_details.email", "customer_email", "metadata.email", "email"},
			Name:      []string{"customer_details.name", "customer_name", "metadata.name"},
			Status:    []string{"payment_status", "status"},
			Plan:      []string{"metadata.plan", "items.data.0.price.lookup_key", "items.data.0.price.id"},
			ExpiresAt: []string{"current_period_end", "items.data.0.current_period_end"},
		},
		KindKeys:     []string{"type"},
		GrantKinds:   []string{"checkout.session.completed", "invoice.paid"},
		RevokeKinds:  []string{"customer.subscription.deleted"},
		StatusKinds:  []string{"checkout.session.*", "invoice.*", "customer.subscription.*"},
		PaidStatuses: []string{"trialing"},
		// "unpaid" is left out: checkout sessions report it while an async
		// payment is still settling.
		RevokeStatuses: []string{"canceled", "incomplete_expired"},
		Meta: map[string][]string{
			"customer_id":     {"customer"},
			"subscription_id": {"subscription", "parent.subscription_details.subscription"},
			"object_id":       {"id"},
		},
	}
}
