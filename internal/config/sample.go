// ABOUTME: Starter configuration written by the init command
// ABOUTME: Kept loadable so tests can parse it with Load

package config

// SampleYAML is a commented starter configuration.
const SampleYAML = `# mrwp-agent configuration

server:
  http_addr: "127.0.0.1:8080"
  # grpc_addr: "127.0.0.1:50051"   # maintenance-aware health service
  shutdown_timeout: "10s"
  health_poll_interval: "5s"

site:
  name: "My Site"
  base_url: "https://example.com"
  upstream: "http://127.0.0.1:8081"
  api_root: "/wp-json/mrwp/v1"
  admin_prefix: "/wp-admin/"
  # host_info_path: "/var/lib/mrwp/host.json"
  maintenance_message: "Maintenance en cours, merci de revenir plus tard."
  maintenance_lang: "fr"
  # Serve the maintenance page instead of the site when the option store is unreadable.
  fail_closed: false

database:
  driver: "sqlite"
  path: "./mrwp-agent.db"
  # encryption_key: "${MRWP_STORE_KEY}"

auth:
  # admin_jwt_secret: "${MRWP_ADMIN_JWT_SECRET}"
  reject_replayed_signatures: false

smtp:
  host: ""
  port: 587
  username: ""
  password: "${MRWP_SMTP_PASSWORD}"
  from: "My Site <noreply@example.com>"
  tls: "mandatory"
  timeout: "15s"

matrix:
  enabled: false
  homeserver: "https://matrix.org"
  user_id: ""
  access_token: "${MRWP_MATRIX_TOKEN}"
  room_id: ""

alerts:
  email: false
  queue_size: 32

tailscale:
  enabled: false
  hostname: "mrwp-agent"
  auth_key: "${TS_AUTHKEY}"

logging:
  level: "info"
  format: "text"

debug:
  log_path: "./debug.log"
  max_size_mb: 5
  max_backups: 3
  max_age_days: 14
  compress: false
`
